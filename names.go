package unpak

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
)

// nameDecoder returns a function decoding raw entry names with enc.
// A nil enc treats names as UTF-8 and replaces invalid sequences.
func nameDecoder(enc encoding.Encoding) func([]byte) (string, error) {
	if enc == nil {
		return func(raw []byte) (string, error) {
			return strings.ToValidUTF8(string(raw), "_"), nil
		}
	}
	return func(raw []byte) (string, error) {
		// Decoders carry state; one per call keeps this safe for concurrent use.
		out, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("%w: decode name: %w", ErrInvalidEntry, err)
		}
		return string(out), nil
	}
}

// entryName returns Name, or RawName decoded with the container's encoding.
func (c *Container[M]) entryName(e Entry) (string, error) {
	if e.Name != "" || len(e.RawName) == 0 {
		return e.Name, nil
	}
	return c.names(e.RawName)
}
