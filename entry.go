package unpak

import (
	"fmt"

	"github.com/meigma/unpak/codec"
	"github.com/meigma/unpak/internal/sizing"
	"github.com/meigma/unpak/volume"
)

// Compression identifies the compression method applied to an entry.
type Compression = codec.Method

// Re-export common compression constants.
const (
	CompressionNone    = codec.None
	CompressionDeflate = codec.Deflate
	CompressionZlib    = codec.Zlib
	CompressionZstd    = codec.Zstd
	CompressionLZMA    = codec.LZMA
)

// LocationKind selects how an entry's bytes are resolved.
type LocationKind uint8

const (
	// Direct entries occupy a byte range of the container.
	Direct LocationKind = iota

	// Chained entries are sector chains of a compound document.
	Chained

	// Volumed entries live in a part file of a split container.
	Volumed
)

func (k LocationKind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Chained:
		return "chained"
	case Volumed:
		return "volumed"
	default:
		return "unknown"
	}
}

// Location describes where an entry's stored bytes are.
// Which fields apply depends on Kind.
type Location struct {
	Kind LocationKind

	// Offset and Length give the byte range within the container (Direct)
	// or within the part (Volumed).
	Offset int64
	Length int64

	// StartSector and DeclaredSize identify a Chained stream.
	StartSector  uint32
	DeclaredSize int64

	// Part is the part index of a Volumed entry. volume.Primary addresses
	// the container itself.
	Part int

	// PreloadOffset and PreloadLength give bytes of a Volumed entry stored
	// in the container. They precede the part bytes.
	PreloadOffset int64
	PreloadLength int64
}

// DirectRange locates n bytes at off within the container.
func DirectRange(off, n int64) Location {
	return Location{Kind: Direct, Offset: off, Length: n}
}

// ChainAt locates a compound-document stream starting at sector start.
func ChainAt(start uint32, size int64) Location {
	return Location{Kind: Chained, StartSector: start, DeclaredSize: size}
}

// InVolume locates n bytes at off within part.
func InVolume(part int, off, n int64) Location {
	return Location{Kind: Volumed, Part: part, Offset: off, Length: n}
}

// WithPreload returns a copy of l that also carries n preload bytes at off
// within the container.
func (l Location) WithPreload(off, n int64) Location {
	l.PreloadOffset = off
	l.PreloadLength = n
	return l
}

// StoredSize returns the number of stored (possibly compressed) bytes.
func (l Location) StoredSize() int64 {
	switch l.Kind {
	case Chained:
		return l.DeclaredSize
	case Volumed:
		n, ok := sizing.AddInt64(l.PreloadLength, l.Length)
		if !ok {
			return -1
		}
		return n
	default:
		return l.Length
	}
}

// Entry is one logical file described by a container model.
type Entry struct {
	// Name is the entry path as stored in the container.
	Name string

	// RawName holds the undecoded name bytes when the container uses a
	// legacy code page. It is used when Name is empty.
	RawName []byte

	// Dir marks a directory entry. Names ending in a separator are
	// directories as well.
	Dir bool

	Location         Location
	UncompressedSize int64
	Compression      Compression
}

// Validate checks the entry's metadata for internal consistency.
func (e Entry) Validate() error {
	l := e.Location
	switch {
	case l.Kind > Volumed:
		return fmt.Errorf("%w: unknown location kind %d", ErrInvalidEntry, l.Kind)
	case l.Offset < 0 || l.Length < 0:
		return fmt.Errorf("%w: negative range [%d, +%d)", ErrInvalidEntry, l.Offset, l.Length)
	case l.DeclaredSize < 0:
		return fmt.Errorf("%w: negative declared size %d", ErrInvalidEntry, l.DeclaredSize)
	case l.PreloadOffset < 0 || l.PreloadLength < 0:
		return fmt.Errorf("%w: negative preload range [%d, +%d)", ErrInvalidEntry, l.PreloadOffset, l.PreloadLength)
	case e.UncompressedSize < 0:
		return fmt.Errorf("%w: negative uncompressed size %d", ErrInvalidEntry, e.UncompressedSize)
	case l.Kind == Volumed && l.Part < volume.Primary:
		return fmt.Errorf("%w: invalid part %d", ErrInvalidEntry, l.Part)
	}
	stored := l.StoredSize()
	if stored < 0 {
		return fmt.Errorf("%w: stored size overflows", ErrInvalidEntry)
	}
	if e.Compression == CompressionNone && stored != e.UncompressedSize {
		return fmt.Errorf("%w: stored size %d differs from uncompressed size %d", ErrInvalidEntry, stored, e.UncompressedSize)
	}
	return nil
}
