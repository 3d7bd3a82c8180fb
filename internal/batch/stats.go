package batch

import (
	"github.com/dustin/go-humanize"
	digest "github.com/opencontainers/go-digest"
)

// Item is one entry scheduled for extraction.
type Item struct {
	// Index is the entry's position in the container's entry list.
	Index int

	// Name is the entry name as stored in the container.
	Name string

	// Path is the sanitized, slash-separated destination path relative to
	// the sink root. It must satisfy fs.ValidPath.
	Path string

	// Dir marks a directory item; Load is not called for directories.
	Dir bool

	// Size is the expected content size, used for progress reporting.
	// Negative means unknown.
	Size int64

	// Load returns the item's final content.
	Load func() ([]byte, error)
}

// Result is the outcome of processing one item.
type Result struct {
	Item    *Item
	Skipped bool
	Bytes   int64
	Digest  digest.Digest
	Err     error
}

// OK reports whether the item was written or skipped without error.
func (r Result) OK() bool {
	return r.Err == nil
}

// Stats contains totals from a batch processing operation.
type Stats struct {
	// Extracted is the number of items successfully written to the sink.
	Extracted int

	// Skipped is the number of items skipped (ShouldProcess returned false).
	Skipped int

	// Failed is the number of items that returned an error.
	Failed int

	// Bytes is the sum of content sizes for all extracted items.
	Bytes int64
}

// Summarize computes totals over results.
func Summarize(results []Result) Stats {
	var s Stats
	for _, r := range results {
		s.add(r)
	}
	return s
}

func (s *Stats) add(r Result) {
	switch {
	case r.Err != nil:
		s.Failed++
	case r.Skipped:
		s.Skipped++
	default:
		s.Extracted++
		s.Bytes += r.Bytes
	}
}

// HumanBytes formats Bytes for logs.
func (s Stats) HumanBytes() string {
	if s.Bytes < 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(s.Bytes))
}
