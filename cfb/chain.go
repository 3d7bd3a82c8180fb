// Package cfb resolves sector chains in compound-document containers.
//
// A compound file stores each logical stream as a linked list of fixed-size
// sectors. The FAT maps a sector number to the next sector in its chain;
// small streams live in a mini stream addressed through the MiniFAT at
// mini-sector granularity. Tables come from an external header parser; this
// package only walks them, and it never trusts them to be acyclic.
package cfb

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/meigma/unpak/internal/sizing"
)

// Reserved sector numbers.
const (
	MaxRegSect uint32 = 0xFFFFFFFA
	DIFSect    uint32 = 0xFFFFFFFC
	FATSect    uint32 = 0xFFFFFFFD
	EndOfChain uint32 = 0xFFFFFFFE
	FreeSect   uint32 = 0xFFFFFFFF
)

const (
	// DefaultCutoff is the stream size below which streams live in the mini stream.
	DefaultCutoff = 4096

	// DefaultMiniSectorSize is the mini-sector size used by version 3 and 4 files.
	DefaultMiniSectorSize = 64
)

// ErrInvalidChain is returned when a chain references a sector outside its
// table or revisits a sector.
var ErrInvalidChain = errors.New("cfb: invalid sector chain")

// SectorSource reads n bytes at an absolute container offset.
// *window.Source satisfies it.
type SectorSource interface {
	Read(pos, n int64) ([]byte, error)
}

// Tables describes the allocation state of a compound file.
type Tables struct {
	// SectorSize is the FAT sector size in bytes (512 or 4096 in practice).
	SectorSize int64

	// MiniSectorSize is the MiniFAT sector size. Zero means DefaultMiniSectorSize.
	MiniSectorSize int64

	// HeaderSize is the offset of sector 0. Zero means SectorSize, which is
	// where the header places it for both 512- and 4096-byte sectors.
	HeaderSize int64

	// FAT maps sector number to next sector number.
	FAT []uint32

	// MiniFAT maps mini-sector number to next mini-sector number.
	MiniFAT []uint32

	// MiniStreamStart is the first FAT sector of the mini stream (the root
	// entry's start sector).
	MiniStreamStart uint32

	// MiniStreamSize is the size of the mini stream in bytes.
	MiniStreamSize int64

	// Cutoff is the size below which streams are MiniFAT-resident.
	// Zero means DefaultCutoff.
	Cutoff int64
}

// Validate checks sector geometry and fills defaults.
func (t *Tables) Validate() error {
	if t.MiniSectorSize == 0 {
		t.MiniSectorSize = DefaultMiniSectorSize
	}
	if t.HeaderSize == 0 {
		t.HeaderSize = t.SectorSize
	}
	if t.Cutoff == 0 {
		t.Cutoff = DefaultCutoff
	}
	if !powerOfTwo(t.SectorSize) {
		return fmt.Errorf("cfb: sector size %d is not a power of two", t.SectorSize)
	}
	if !powerOfTwo(t.MiniSectorSize) || t.MiniSectorSize > t.SectorSize {
		return fmt.Errorf("cfb: mini sector size %d is invalid", t.MiniSectorSize)
	}
	if t.HeaderSize < 0 || t.MiniStreamSize < 0 || t.Cutoff < 0 {
		return errors.New("cfb: negative header size, mini stream size or cutoff")
	}
	return nil
}

// Resolver reconstructs stream bytes from sector chains.
//
// A Resolver is safe for concurrent use; the tables are read-only and the
// mini stream is resolved at most once.
type Resolver struct {
	src        SectorSource
	t          Tables
	miniStream func() ([]byte, error)
}

// NewResolver validates t and returns a Resolver reading sectors from src.
func NewResolver(src SectorSource, t Tables) (*Resolver, error) {
	if src == nil {
		return nil, errors.New("cfb: nil sector source")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	r := &Resolver{src: src, t: t}
	r.miniStream = sync.OnceValues(func() ([]byte, error) {
		data, err := r.ResolveFAT(r.t.MiniStreamStart, r.t.MiniStreamSize)
		if err != nil {
			return nil, fmt.Errorf("mini stream: %w", err)
		}
		return data, nil
	})
	return r, nil
}

// Tables returns the resolver's allocation tables with defaults applied.
func (r *Resolver) Tables() Tables {
	return r.t
}

// Resolve returns the first size bytes of the stream starting at start,
// choosing the MiniFAT when size is below the cutoff.
func (r *Resolver) Resolve(start uint32, size int64) ([]byte, error) {
	if size < r.t.Cutoff {
		return r.ResolveMiniFAT(start, size)
	}
	return r.ResolveFAT(start, size)
}

// ResolveFAT walks the FAT chain at start and returns at most size bytes.
func (r *Resolver) ResolveFAT(start uint32, size int64) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("cfb: negative stream size %d", size)
	}
	chain, err := Walk(r.t.FAT, start)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, capacity(len(chain), r.t.SectorSize, size))
	for _, sect := range chain {
		off, ok := sizing.MulInt64(int64(sect), r.t.SectorSize)
		if ok {
			off, ok = sizing.AddInt64(off, r.t.HeaderSize)
		}
		if !ok {
			return nil, fmt.Errorf("%w: sector %d offset overflows", ErrInvalidChain, sect)
		}
		data, err := r.src.Read(off, r.t.SectorSize)
		if err != nil {
			return nil, fmt.Errorf("cfb: sector %d: %w", sect, err)
		}
		buf = append(buf, data...)
	}
	return truncate(buf, size), nil
}

// ResolveMiniFAT walks the MiniFAT chain at start and returns at most size
// bytes, indexing into the mini stream at mini-sector granularity.
func (r *Resolver) ResolveMiniFAT(start uint32, size int64) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("cfb: negative stream size %d", size)
	}
	chain, err := Walk(r.t.MiniFAT, start)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return []byte{}, nil
	}
	mini, err := r.miniStream()
	if err != nil {
		return nil, err
	}
	ss := r.t.MiniSectorSize
	buf := make([]byte, 0, capacity(len(chain), ss, size))
	for _, sect := range chain {
		off := int64(sect) * ss
		if off+ss > int64(len(mini)) {
			return nil, fmt.Errorf("%w: mini sector %d beyond mini stream of %d bytes", ErrInvalidChain, sect, len(mini))
		}
		buf = append(buf, mini[off:off+ss]...)
	}
	return truncate(buf, size), nil
}

// Walk follows table from start until EndOfChain and returns the visited
// sectors in order. It fails with ErrInvalidChain when a sector is outside
// the table or is visited twice, so it performs at most len(table) steps.
func Walk(table []uint32, start uint32) ([]uint32, error) {
	var (
		chain   []uint32
		visited = make(map[uint32]struct{})
	)
	for cur := start; cur != EndOfChain; {
		if uint64(cur) >= uint64(len(table)) {
			return nil, fmt.Errorf("%w: sector %#x outside table of %d entries", ErrInvalidChain, cur, len(table))
		}
		if _, seen := visited[cur]; seen {
			return nil, fmt.Errorf("%w: sector %d revisited", ErrInvalidChain, cur)
		}
		visited[cur] = struct{}{}
		chain = append(chain, cur)
		cur = table[cur]
	}
	return chain, nil
}

func truncate(buf []byte, size int64) []byte {
	if int64(len(buf)) > size {
		return buf[:size]
	}
	return buf
}

func capacity(sectors int, sectorSize, size int64) int64 {
	total, ok := sizing.MulInt64(int64(sectors), sectorSize)
	if !ok || total > size {
		return max(size, 0)
	}
	return total
}

func powerOfTwo(n int64) bool {
	return n > 0 && bits.OnesCount64(uint64(n)) == 1
}
