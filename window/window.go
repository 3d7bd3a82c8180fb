// Package window provides bounds-checked, concurrency-safe views over a
// byte buffer or a seekable stream.
//
// Every container reader goes through a Source: it answers "read n bytes at
// offset p" relative to its own base offset, and never returns a short read.
// Stream-backed windows serialize the seek/read/restore sequence on the
// shared stream so that independent callers observe random-access semantics.
package window

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sync"
)

// Sentinel errors.
var (
	// ErrOutOfRange is returned when a read falls outside the window.
	ErrOutOfRange = errors.New("window: read out of range")

	// ErrEmptySource is returned when a window would have zero length.
	ErrEmptySource = errors.New("window: empty source")
)

// Kind identifies the backing of a Source.
type Kind uint8

const (
	// Buffer is an in-memory byte slice.
	Buffer Kind = iota

	// Stream is an io.ReadSeeker with a single shared cursor.
	Stream
)

func (k Kind) String() string {
	switch k {
	case Buffer:
		return "buffer"
	case Stream:
		return "stream"
	default:
		return "unknown"
	}
}

// Source is a view of length L starting at base offset B into a buffer or
// a seekable stream. The zero value is not usable; construct with NewBuffer,
// NewStream, FromBytes, FromStream or OpenFile.
type Source struct {
	kind   Kind
	buf    []byte
	rs     io.ReadSeeker
	mu     *guard // shared by every window over the same stream
	held   bool   // this window holds a reference on mu
	base   int64
	length int64
	name   string
	closer io.Closer
}

// guard serializes the seek/read/restore sequence on one stream.
type guard struct {
	sync.Mutex
	refs int
}

// guards maps each stream to its guard, so that windows built independently
// over the same stream share one lock.
var guards = struct {
	sync.Mutex
	m map[io.ReadSeeker]*guard
}{m: make(map[io.ReadSeeker]*guard)}

// acquireGuard returns the guard for rs and takes a reference on it.
// Streams whose dynamic type is not comparable get a private guard.
func acquireGuard(rs io.ReadSeeker) *guard {
	if !reflect.TypeOf(rs).Comparable() {
		return &guard{refs: 1}
	}
	guards.Lock()
	defer guards.Unlock()
	g, ok := guards.m[rs]
	if !ok {
		g = &guard{}
		guards.m[rs] = g
	}
	g.refs++
	return g
}

// releaseGuard drops a reference taken by acquireGuard.
func releaseGuard(rs io.ReadSeeker, g *guard) {
	if !reflect.TypeOf(rs).Comparable() {
		return
	}
	guards.Lock()
	defer guards.Unlock()
	g.refs--
	if g.refs <= 0 && guards.m[rs] == g {
		delete(guards.m, rs)
	}
}

// NewBuffer returns a window of length bytes starting at base within buf.
func NewBuffer(buf []byte, base, length int64) (*Source, error) {
	if err := checkBounds(base, length, int64(len(buf))); err != nil {
		return nil, err
	}
	return &Source{
		kind:   Buffer,
		buf:    buf,
		base:   base,
		length: length,
	}, nil
}

// FromBytes returns a window covering all of buf.
func FromBytes(buf []byte) (*Source, error) {
	return NewBuffer(buf, 0, int64(len(buf)))
}

// NewStream returns a window of length bytes starting at base within rs.
//
// The stream's extent is probed once by seeking to its end; the original
// cursor is restored before returning. Windows over the same stream share
// one guard, whichever constructor built them. Close releases the window's
// reference on it.
func NewStream(rs io.ReadSeeker, base, length int64) (*Source, error) {
	return newStream(rs, func(int64) (int64, int64) { return base, length })
}

// FromStream returns a window covering all of rs.
func FromStream(rs io.ReadSeeker) (*Source, error) {
	return newStream(rs, func(size int64) (int64, int64) { return 0, size })
}

// newStream builds a stream window whose range is derived from the stream size.
func newStream(rs io.ReadSeeker, extent func(size int64) (base, length int64)) (*Source, error) {
	if rs == nil {
		return nil, errors.New("window: nil stream")
	}
	g := acquireGuard(rs)
	g.Lock()
	size, err := streamSize(rs)
	g.Unlock()
	if err != nil {
		releaseGuard(rs, g)
		return nil, err
	}
	base, length := extent(size)
	if err := checkBounds(base, length, size); err != nil {
		releaseGuard(rs, g)
		return nil, err
	}
	return &Source{
		kind:   Stream,
		rs:     rs,
		mu:     g,
		held:   true,
		base:   base,
		length: length,
	}, nil
}

// OpenFile opens the named file and returns a stream window covering it.
// The returned Source owns the file; Close releases it.
func OpenFile(name string) (*Source, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("window: open %s: %w", name, err)
	}
	s, err := FromStream(f)
	if err != nil {
		_ = f.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("window: %s: %w", name, err)
	}
	s.name = name
	s.closer = f
	return s, nil
}

// Read returns a copy of n bytes starting at pos, relative to the window.
//
// Read succeeds iff 0 <= pos, 0 <= n and pos+n <= Size(). It never returns
// fewer than n bytes: any shortfall is reported as ErrOutOfRange.
func (s *Source) Read(pos, n int64) ([]byte, error) {
	if err := s.check(pos, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if n == 0 {
		return out, nil
	}
	if err := s.readInto(out, pos); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadAt implements io.ReaderAt with the same strict bounds as Read.
// On failure no bytes are reported as read.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if err := s.check(off, int64(len(p))); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.readInto(p, off); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Slice returns a nested window of length bytes at base, relative to s.
// The nested window shares the backing and, for streams, the guard.
func (s *Source) Slice(base, length int64) (*Source, error) {
	if err := checkBounds(base, length, s.length); err != nil {
		return nil, err
	}
	return &Source{
		kind:   s.kind,
		buf:    s.buf,
		rs:     s.rs,
		mu:     s.mu,
		base:   s.base + base,
		length: length,
		name:   s.name,
	}, nil
}

// Size returns the window length L.
func (s *Source) Size() int64 {
	return s.length
}

// Base returns the window's base offset within its backing.
func (s *Source) Base() int64 {
	return s.base
}

// Kind reports the backing kind.
func (s *Source) Kind() Kind {
	return s.kind
}

// Name returns the backing file name, or "" when the window is not file-backed.
func (s *Source) Name() string {
	return s.name
}

// Close releases the window's stream guard reference and an owned file
// handle. It is a no-op for buffer windows and slices.
func (s *Source) Close() error {
	if s.held {
		s.held = false
		releaseGuard(s.rs, s.mu)
	}
	if s.closer == nil {
		return nil
	}
	c := s.closer
	s.closer = nil
	return c.Close()
}

func (s *Source) check(pos, n int64) error {
	if pos < 0 || n < 0 {
		return fmt.Errorf("%w: negative position %d or length %d", ErrOutOfRange, pos, n)
	}
	if pos > s.length || n > s.length-pos {
		return fmt.Errorf("%w: [%d, %d+%d) exceeds length %d", ErrOutOfRange, pos, pos, n, s.length)
	}
	return nil
}

// readInto fills p from the already-validated window position pos.
func (s *Source) readInto(p []byte, pos int64) error {
	abs := s.base + pos
	if s.kind == Buffer {
		copy(p, s.buf[abs:abs+int64(len(p))])
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("window: record cursor: %w", err)
	}
	if _, err := s.rs.Seek(abs, io.SeekStart); err != nil {
		return fmt.Errorf("window: seek %d: %w", abs, err)
	}
	_, readErr := io.ReadFull(s.rs, p)
	if _, err := s.rs.Seek(cur, io.SeekStart); err != nil && readErr == nil {
		readErr = fmt.Errorf("window: restore cursor: %w", err)
	}
	if readErr != nil {
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: short read at %d", ErrOutOfRange, abs)
		}
		return readErr
	}
	return nil
}

func checkBounds(base, length, size int64) error {
	if base < 0 || length < 0 {
		return fmt.Errorf("%w: negative base %d or length %d", ErrOutOfRange, base, length)
	}
	if length == 0 {
		return ErrEmptySource
	}
	if base > size || length > size-base {
		return fmt.Errorf("%w: window [%d, %d+%d) exceeds backing size %d", ErrOutOfRange, base, base, length, size)
	}
	return nil
}

// streamSize returns the total size of rs, leaving its cursor unchanged.
// The caller holds the stream's guard.
func streamSize(rs io.ReadSeeker) (int64, error) {
	cur, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("window: record cursor: %w", err)
	}
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("window: seek end: %w", err)
	}
	if _, err := rs.Seek(cur, io.SeekStart); err != nil {
		return 0, fmt.Errorf("window: restore cursor: %w", err)
	}
	return end, nil
}
