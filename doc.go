// Package unpak opens legacy and proprietary binary containers and extracts
// the entries they hold.
//
// Format-specific parsers are supplied by the caller as a [Producer], which
// turns a bounds-checked [window.Source] into a model listing the container's
// entries. This package owns everything after that: locating each entry's
// bytes, decompressing them, sanitizing the destination path and writing the
// result.
//
// Entries locate their bytes in one of three ways:
//   - Direct: a byte range of the container itself
//   - Chained: a sector chain of a compound document, walked by package cfb
//   - Volumed: a byte range of a sibling part file, resolved by package volume,
//     optionally preceded by preload bytes stored in the container
//
// # Quick Start
//
//	c, err := unpak.OpenFile("game.pak", parsePak)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	report, err := c.Extract("./out", unpak.WithWorkers(4))
//
// Extraction is best effort: every entry is attempted, failures are reported
// per entry as [*EntryError] values joined into the returned error, and
// successfully extracted entries stay on disk.
package unpak
