package unpak

import (
	"errors"
	"strconv"

	"github.com/meigma/unpak/cfb"
	"github.com/meigma/unpak/codec"
	"github.com/meigma/unpak/internal/batch"
	"github.com/meigma/unpak/volume"
	"github.com/meigma/unpak/window"
)

// Errors re-exported from the component packages.
var (
	// ErrOutOfRange is returned when a read falls outside a source window.
	ErrOutOfRange = window.ErrOutOfRange

	// ErrEmptySource is returned when a container is opened over zero bytes.
	ErrEmptySource = window.ErrEmptySource

	// ErrInvalidChain is returned when a compound-document sector chain is
	// out of range or cyclic.
	ErrInvalidChain = cfb.ErrInvalidChain

	// ErrVolumeNotFound is returned when a part of a split container is
	// missing, truncated, or outside the discovered part list.
	ErrVolumeNotFound = volume.ErrVolumeNotFound

	// ErrDecode is returned when an entry's payload cannot be decompressed.
	ErrDecode = codec.ErrDecode

	// ErrUnsupported is returned alongside ErrDecode when no decoder is
	// registered for an entry's compression method.
	ErrUnsupported = codec.ErrUnsupported

	// ErrWrite is returned when extracted content cannot be written.
	ErrWrite = batch.ErrWrite
)

// Sentinel errors specific to the unpak package.
var (
	// ErrInvalidEntry is returned for entries with inconsistent metadata,
	// unusable names, or indexes outside the entry list.
	ErrInvalidEntry = errors.New("unpak: invalid entry")

	// ErrEntryTooLarge is returned when an entry exceeds the configured
	// maximum entry size.
	ErrEntryTooLarge = errors.New("unpak: entry too large")
)

// Operations reported in EntryError.
const (
	OpResolve = "resolve"
	OpDecode  = "decode"
	OpWrite   = "write"
	OpExtract = "extract"
)

// EntryError records a failure scoped to a single entry.
type EntryError struct {
	Index int
	Name  string
	Op    string
	Err   error
}

func (e *EntryError) Error() string {
	return "unpak: " + e.Op + " entry " + strconv.Itoa(e.Index) + " " + strconv.Quote(e.Name) + ": " + e.Err.Error()
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// entryError wraps err for entry i unless it is already an *EntryError.
func entryError(i int, name, op string, err error) error {
	var ee *EntryError
	if errors.As(err, &ee) {
		return err
	}
	return &EntryError{Index: i, Name: name, Op: op, Err: err}
}
