// Package volume resolves byte ranges of split containers to the physical
// part files that hold them.
//
// Two addressing schemes are supported. Indexed layouts carry an explicit
// part index into a list derived from the primary file name; Probed layouts
// discover parts by generating successive names until one is missing. In
// both cases the part list order is the addressing order.
package volume

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/meigma/unpak/window"
)

// ErrVolumeNotFound is returned when a part is missing, unreadable,
// truncated, or outside the discovered part list.
var ErrVolumeNotFound = errors.New("volume: part not found")

// Primary addresses the primary container itself rather than a sibling part.
const Primary = -1

// DefaultMaxParts bounds probing when Layout.Max is zero.
const DefaultMaxParts = 1000

// Scheme selects how parts are addressed.
type Scheme uint8

const (
	// Probed discovers parts until the first missing name.
	Probed Scheme = iota

	// Indexed enumerates a declared number of parts; gaps are recorded.
	Indexed
)

func (s Scheme) String() string {
	switch s {
	case Probed:
		return "probed"
	case Indexed:
		return "indexed"
	default:
		return "unknown"
	}
}

// Layout describes how a container's parts are named and addressed.
type Layout struct {
	Scheme Scheme
	Namer  Namer

	// Count is the declared number of parts for Indexed layouts.
	Count int

	// Max limits probing for Probed layouts. Zero means DefaultMaxParts.
	Max int
}

// Part is one physical file of a split container.
type Part struct {
	Index   int
	Path    string
	Size    int64
	Missing bool
}

// Set is the ordered list of parts discovered for a primary file.
// A Set is immutable and safe for concurrent use.
type Set struct {
	primary string
	dir     string
	parts   []Part
}

// Discover builds the part set for primary according to l.
func Discover(primary string, l Layout) (*Set, error) {
	switch l.Scheme {
	case Probed:
		return Probe(primary, l.Namer, l.Max)
	case Indexed:
		return Enumerate(primary, l.Namer, l.Count)
	default:
		return nil, fmt.Errorf("volume: unknown scheme %d", l.Scheme)
	}
}

// Probe generates part names for index 0, 1, ... and keeps those that
// exist, stopping at the first missing name or after limit parts.
func Probe(primary string, namer Namer, limit int) (*Set, error) {
	if limit <= 0 {
		limit = DefaultMaxParts
	}
	return discover(primary, namer, limit, true)
}

// Enumerate generates exactly count part names. Parts that do not exist are
// kept in the list and marked Missing, so that their indexes stay stable.
func Enumerate(primary string, namer Namer, count int) (*Set, error) {
	if count < 0 {
		return nil, fmt.Errorf("volume: negative part count %d", count)
	}
	return discover(primary, namer, count, false)
}

func discover(primary string, namer Namer, limit int, stopAtMissing bool) (*Set, error) {
	if namer == nil {
		return nil, errors.New("volume: nil namer")
	}
	s := &Set{
		primary: primary,
		dir:     filepath.Dir(primary),
	}
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: open directory %s: %w", ErrVolumeNotFound, s.dir, err)
	}
	defer root.Close()

	for i := range limit {
		name := namer(primary, i)
		if name == "" {
			if i == 0 {
				return nil, fmt.Errorf("volume: cannot derive part names from %s", primary)
			}
			break
		}
		part := Part{Index: i, Path: name}
		info, err := s.stat(root, name)
		if err != nil || info.IsDir() {
			if stopAtMissing {
				break
			}
			part.Missing = true
		} else {
			part.Size = info.Size()
		}
		s.parts = append(s.parts, part)
	}
	return s, nil
}

// Primary returns the primary file name the set was derived from.
func (s *Set) Primary() string {
	return s.primary
}

// Len returns the number of parts in the set, including missing ones.
func (s *Set) Len() int {
	return len(s.parts)
}

// Parts returns a copy of the part list.
func (s *Set) Parts() []Part {
	return append([]Part(nil), s.parts...)
}

// Part returns part i, failing with ErrVolumeNotFound if it is outside the
// list or missing on disk.
func (s *Set) Part(i int) (Part, error) {
	if i < 0 || i >= len(s.parts) {
		return Part{}, fmt.Errorf("%w: index %d outside %d discovered parts", ErrVolumeNotFound, i, len(s.parts))
	}
	p := s.parts[i]
	if p.Missing {
		return Part{}, fmt.Errorf("%w: %s", ErrVolumeNotFound, p.Path)
	}
	return p, nil
}

// Resolve maps a range within part i to the part and validates that the
// range lies within the part's size as discovered.
func (s *Set) Resolve(i int, off, n int64) (Part, error) {
	p, err := s.Part(i)
	if err != nil {
		return Part{}, err
	}
	if off < 0 || n < 0 || off > p.Size || n > p.Size-off {
		return Part{}, fmt.Errorf("%w: %s: range [%d, %d+%d) exceeds part size %d", ErrVolumeNotFound, p.Path, off, off, n, p.Size)
	}
	return p, nil
}

// ReadRange reads n bytes at off within part i. The part file is opened for
// the duration of the call only.
func (s *Set) ReadRange(i int, off, n int64) ([]byte, error) {
	p, err := s.Resolve(i, off, n)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}

	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: open directory %s: %w", ErrVolumeNotFound, s.dir, err)
	}
	defer root.Close()

	rel, err := s.rel(p.Path)
	if err != nil {
		return nil, err
	}
	f, err := root.Open(rel)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrVolumeNotFound, p.Path, err)
	}
	defer f.Close()

	src, err := window.FromStream(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrVolumeNotFound, p.Path, err)
	}
	defer src.Close()
	data, err := src.Read(off, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrVolumeNotFound, p.Path, err)
	}
	return data, nil
}

func (s *Set) stat(root *os.Root, name string) (fs.FileInfo, error) {
	rel, err := s.rel(name)
	if err != nil {
		return nil, err
	}
	return root.Stat(rel)
}

// rel returns name relative to the primary's directory.
func (s *Set) rel(name string) (string, error) {
	rel, err := filepath.Rel(s.dir, name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrVolumeNotFound, name, err)
	}
	return rel, nil
}
