package unpak

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/meigma/unpak/cfb"
	"github.com/meigma/unpak/codec"
	"github.com/meigma/unpak/internal/sizing"
	"github.com/meigma/unpak/volume"
	"github.com/meigma/unpak/window"
)

// Model is a parsed container description. Format parsers implement it.
type Model interface {
	Entries() []Entry
}

// CompoundModel is implemented by models of compound-document containers
// whose entries use Chained locations.
type CompoundModel interface {
	Model
	AllocationTables() cfb.Tables
}

// SplitModel is implemented by models of containers whose entries use
// Volumed locations in sibling part files.
type SplitModel interface {
	Model
	Volumes() volume.Layout
}

// Producer parses a container's source into its model. It is invoked
// exactly once, when the container is opened.
type Producer[M Model] func(src *window.Source) (M, error)

// Container binds a parsed model to the source it was parsed from.
//
// A Container is immutable after construction and safe for concurrent use.
type Container[M Model] struct {
	model   M
	src     *window.Source
	entries []Entry

	codecs       *codec.Registry
	logger       *slog.Logger
	maxEntrySize uint64
	sizeFallback bool
	names        func([]byte) (string, error)

	chains  *cfb.Resolver
	volumes func() (*volume.Set, error)
}

// New parses src with produce and returns a container over it.
//
// Producer failures and invalid allocation tables are returned as errors and
// no container is created. The container takes ownership of src.
func New[M Model](src *window.Source, produce Producer[M], opts ...Option) (*Container[M], error) {
	if src == nil {
		return nil, errors.New("unpak: nil source")
	}
	if produce == nil {
		return nil, errors.New("unpak: nil producer")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	model, err := produce(src)
	if err != nil {
		return nil, fmt.Errorf("unpak: parse container: %w", err)
	}

	c := &Container[M]{
		model:        model,
		src:          src,
		entries:      model.Entries(),
		codecs:       o.codecs,
		logger:       o.logger,
		maxEntrySize: o.maxEntrySize,
		sizeFallback: o.sizeFallback,
		names:        nameDecoder(o.nameEncoding),
	}
	if c.codecs == nil {
		c.codecs = codec.NewRegistry()
	}

	if cm, ok := any(model).(CompoundModel); ok {
		r, err := cfb.NewResolver(src, cm.AllocationTables())
		if err != nil {
			return nil, fmt.Errorf("unpak: allocation tables: %w", err)
		}
		c.chains = r
	}
	if sm, ok := any(model).(SplitModel); ok {
		layout := sm.Volumes()
		c.volumes = sync.OnceValues(func() (*volume.Set, error) {
			return c.discoverVolumes(layout)
		})
	}

	c.log().Debug("opened container",
		"name", src.Name(),
		"size", humanize.IBytes(uint64(src.Size())),
		"entries", len(c.entries),
		"compound", c.chains != nil,
		"split", c.volumes != nil)
	return c, nil
}

// FromBytes parses data with produce and returns a buffer-backed container.
func FromBytes[M Model](data []byte, produce Producer[M], opts ...Option) (*Container[M], error) {
	src, err := window.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("unpak: %w", err)
	}
	return New(src, produce, opts...)
}

// OpenFile opens the named file, parses it with produce and returns a
// stream-backed container. Close releases the file.
func OpenFile[M Model](name string, produce Producer[M], opts ...Option) (*Container[M], error) {
	src, err := window.OpenFile(name)
	if err != nil {
		return nil, fmt.Errorf("unpak: %w", err)
	}
	c, err := New(src, produce, opts...)
	if err != nil {
		_ = src.Close() //nolint:errcheck // best-effort cleanup
		return nil, err
	}
	return c, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Container[M]) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Model returns the parsed model.
func (c *Container[M]) Model() M {
	return c.model
}

// Source returns the window the container reads through.
func (c *Container[M]) Source() *window.Source {
	return c.src
}

// Len returns the container length in bytes.
func (c *Container[M]) Len() int64 {
	return c.src.Size()
}

// Name returns the file name of a file-backed container, or "".
func (c *Container[M]) Name() string {
	return c.src.Name()
}

// Close releases the container's file handle, if it owns one.
func (c *Container[M]) Close() error {
	return c.src.Close()
}

// NumEntries returns the number of entries in the model.
func (c *Container[M]) NumEntries() int {
	return len(c.entries)
}

// Entries returns a copy of the entry list.
func (c *Container[M]) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

// Entry returns entry i.
func (c *Container[M]) Entry(i int) (Entry, error) {
	if i < 0 || i >= len(c.entries) {
		return Entry{}, fmt.Errorf("%w: index %d outside %d entries", ErrInvalidEntry, i, len(c.entries))
	}
	return c.entries[i], nil
}

// EntryName returns the decoded name of entry i.
func (c *Container[M]) EntryName(i int) (string, error) {
	e, err := c.Entry(i)
	if err != nil {
		return "", err
	}
	return c.entryName(e)
}

// ReadRange reads n bytes at pos within the container.
func (c *Container[M]) ReadRange(pos, n int64) ([]byte, error) {
	return c.src.Read(pos, n)
}

// Volumes returns the part set of a split container. Parts are discovered
// on first use and the result is reused.
func (c *Container[M]) Volumes() (*volume.Set, error) {
	if c.volumes == nil {
		return nil, fmt.Errorf("%w: container has no volumes", ErrVolumeNotFound)
	}
	return c.volumes()
}

// RawBytes returns the stored bytes of entry i without decompressing them.
// Failures are returned as *EntryError.
func (c *Container[M]) RawBytes(i int) ([]byte, error) {
	e, err := c.Entry(i)
	if err != nil {
		return nil, &EntryError{Index: i, Op: OpResolve, Err: err}
	}
	name, _ := c.entryName(e)
	raw, err := c.rawBytes(e)
	if err != nil {
		return nil, &EntryError{Index: i, Name: name, Op: OpResolve, Err: err}
	}
	return raw, nil
}

// ReadEntry returns the decompressed content of entry i.
// Failures are returned as *EntryError.
func (c *Container[M]) ReadEntry(i int) ([]byte, error) {
	raw, err := c.RawBytes(i)
	if err != nil {
		return nil, err
	}
	e := c.entries[i]
	content, err := c.codecs.Decode(e.Compression, raw, e.UncompressedSize)
	if err != nil {
		name, _ := c.entryName(e)
		return nil, &EntryError{Index: i, Name: name, Op: OpDecode, Err: err}
	}
	return content, nil
}

// rawBytes validates e and dispatches on its location kind.
func (c *Container[M]) rawBytes(e Entry) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := c.checkSize(e); err != nil {
		return nil, err
	}

	loc := e.Location
	switch loc.Kind {
	case Direct:
		framed, reframed, err := frameDirect(loc, e.UncompressedSize, c.Len(), c.sizeFallback)
		if err != nil {
			return nil, err
		}
		if reframed {
			c.log().Warn("entry exceeds container, using uncompressed size",
				"name", e.Name,
				"offset", loc.Offset,
				"length", loc.Length,
				"uncompressed_size", e.UncompressedSize)
		}
		return c.src.Read(framed.Offset, framed.Length)
	case Chained:
		if c.chains == nil {
			return nil, fmt.Errorf("%w: chained entry in a container without allocation tables", ErrInvalidEntry)
		}
		return c.chains.Resolve(loc.StartSector, loc.DeclaredSize)
	case Volumed:
		return c.volumedBytes(loc)
	default:
		return nil, fmt.Errorf("%w: unknown location kind %d", ErrInvalidEntry, loc.Kind)
	}
}

// volumedBytes reads the preload bytes from the container followed by the
// body bytes from the entry's part.
func (c *Container[M]) volumedBytes(loc Location) ([]byte, error) {
	var preload []byte
	if loc.PreloadLength > 0 {
		var err error
		preload, err = c.src.Read(loc.PreloadOffset, loc.PreloadLength)
		if err != nil {
			return nil, fmt.Errorf("preload: %w", err)
		}
	}
	if loc.Length == 0 {
		if preload == nil {
			return []byte{}, nil
		}
		return preload, nil
	}

	var body []byte
	if loc.Part == volume.Primary {
		b, err := c.src.Read(loc.Offset, loc.Length)
		if err != nil {
			return nil, err
		}
		body = b
	} else {
		set, err := c.Volumes()
		if err != nil {
			return nil, err
		}
		b, err := set.ReadRange(loc.Part, loc.Offset, loc.Length)
		if err != nil {
			return nil, err
		}
		body = b
	}
	if len(preload) == 0 {
		return body, nil
	}
	return append(preload, body...), nil
}

func (c *Container[M]) checkSize(e Entry) error {
	if c.maxEntrySize == 0 {
		return nil
	}
	limit, err := sizing.ToInt64(c.maxEntrySize, ErrEntryTooLarge)
	if err != nil {
		limit = math.MaxInt64
	}
	if stored := e.Location.StoredSize(); stored > limit {
		return fmt.Errorf("%w: stored size %d exceeds %d", ErrEntryTooLarge, stored, limit)
	}
	if e.UncompressedSize > limit {
		return fmt.Errorf("%w: uncompressed size %d exceeds %d", ErrEntryTooLarge, e.UncompressedSize, limit)
	}
	return nil
}

func (c *Container[M]) discoverVolumes(layout volume.Layout) (*volume.Set, error) {
	name := c.src.Name()
	if name == "" {
		return nil, fmt.Errorf("%w: split container is not file-backed", ErrVolumeNotFound)
	}
	set, err := volume.Discover(name, layout)
	if err != nil {
		return nil, err
	}
	c.log().Debug("discovered volumes", "primary", name, "scheme", layout.Scheme.String(), "parts", set.Len())
	return set, nil
}

// frameDirect returns the range to read for a direct entry in a container of
// size bytes.
//
// When the stored range runs past the end of the container and fallback is
// enabled, the entry is re-framed with its uncompressed size if that fits.
// The second result reports whether that happened.
func frameDirect(loc Location, uncompressed, size int64, fallback bool) (Location, bool, error) {
	if fits(loc.Offset, loc.Length, size) {
		return loc, false, nil
	}
	if fallback && uncompressed >= 0 && fits(loc.Offset, uncompressed, size) {
		loc.Length = uncompressed
		return loc, true, nil
	}
	return Location{}, false, fmt.Errorf("%w: range [%d, +%d) exceeds container of %d bytes", ErrOutOfRange, loc.Offset, loc.Length, size)
}

func fits(off, n, size int64) bool {
	end, ok := sizing.AddInt64(off, n)
	return ok && end <= size
}
