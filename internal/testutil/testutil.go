// Package testutil builds container images and fixtures for tests.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/require"
)

// Pattern returns n bytes whose values depend on their position and seed,
// so that misplaced reads are detected.
func Pattern(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*31) ^ seed ^ byte(i>>8)
	}
	return data
}

// Deflate compresses data as a raw DEFLATE stream.
func Deflate(t testing.TB, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// WriteFiles creates the named files below dir.
func WriteFiles(t testing.TB, dir string, files map[string][]byte) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, content, 0o600))
	}
}

// CompoundImage assembles a compound-document image: a header-sized prefix
// followed by fixed-size sectors, with a FAT describing the chains.
type CompoundImage struct {
	SectorSize int64
	FAT        []uint32
	sectors    [][]byte
}

// EndOfChain and FreeSect mirror the compound-document sentinels.
const (
	EndOfChain uint32 = 0xFFFFFFFE
	FreeSect   uint32 = 0xFFFFFFFF
)

// NewCompoundImage returns an empty image with the given sector size.
func NewCompoundImage(sectorSize int64) *CompoundImage {
	return &CompoundImage{SectorSize: sectorSize}
}

// AddStream stores data in newly allocated sectors, chained in reverse
// allocation order so the chain is not contiguous. It returns the start
// sector. Empty data returns EndOfChain.
func (c *CompoundImage) AddStream(data []byte) uint32 {
	if len(data) == 0 {
		return EndOfChain
	}
	n := (int64(len(data)) + c.SectorSize - 1) / c.SectorSize
	first := uint32(len(c.sectors))
	for range n {
		c.sectors = append(c.sectors, make([]byte, c.SectorSize))
		c.FAT = append(c.FAT, FreeSect)
	}
	// Chunk k lives in sector first+n-1-k.
	next := EndOfChain
	for k := n - 1; k >= 0; k-- {
		sect := first + uint32(n-1-k)
		start := k * c.SectorSize
		end := min(start+c.SectorSize, int64(len(data)))
		copy(c.sectors[sect], data[start:end])
		c.FAT[sect] = next
		next = sect
	}
	return next
}

// Bytes returns the image: one sector of zero header followed by the sectors.
func (c *CompoundImage) Bytes() []byte {
	out := make([]byte, c.SectorSize, c.SectorSize*int64(len(c.sectors)+1))
	for _, s := range c.sectors {
		out = append(out, s...)
	}
	return out
}
