package cfb

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/unpak/window"
)

// image builds a container with a header sector followed by sectors whose
// bytes all equal the sector number plus one.
func image(t *testing.T, sectorSize int64, sectors int) *window.Source {
	t.Helper()
	data := make([]byte, sectorSize*int64(sectors+1))
	for i := range sectors {
		start := sectorSize * int64(i+1)
		copy(data[start:start+sectorSize], bytes.Repeat([]byte{byte(i + 1)}, int(sectorSize)))
	}
	src, err := window.FromBytes(data)
	require.NoError(t, err)
	return src
}

func fatOf(n int) []uint32 {
	fat := make([]uint32, n)
	for i := range fat {
		fat[i] = FreeSect
	}
	return fat
}

func TestWalk(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		table   []uint32
		start   uint32
		want    []uint32
		wantErr bool
	}{
		{name: "single sector", table: []uint32{EndOfChain}, start: 0, want: []uint32{0}},
		{name: "scattered chain", table: []uint32{3, EndOfChain, FreeSect, 1}, start: 0, want: []uint32{0, 3, 1}},
		{name: "empty stream", table: []uint32{EndOfChain}, start: EndOfChain, want: nil},
		{name: "self reference", table: []uint32{FreeSect, FreeSect, FreeSect, FreeSect, FreeSect, 5}, start: 5, wantErr: true},
		{name: "mutual reference", table: []uint32{1, 2, 0}, start: 0, wantErr: true},
		{name: "start out of range", table: []uint32{EndOfChain}, start: 4, wantErr: true},
		{name: "next out of range", table: []uint32{9}, start: 0, wantErr: true},
		{name: "free sentinel in chain", table: []uint32{FreeSect}, start: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Walk(tt.table, tt.start)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidChain)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveSelfCycleTerminates(t *testing.T) {
	t.Parallel()

	fat := fatOf(8)
	fat[5] = 5
	r, err := NewResolver(image(t, 512, 8), Tables{SectorSize: 512, FAT: fat})
	require.NoError(t, err)

	_, err = r.ResolveFAT(5, 10_000)
	require.ErrorIs(t, err, ErrInvalidChain)
}

func TestResolveTruncatesLastSector(t *testing.T) {
	t.Parallel()

	fat := fatOf(4)
	fat[2] = 0
	fat[0] = 3
	fat[3] = EndOfChain
	r, err := NewResolver(image(t, 512, 4), Tables{SectorSize: 512, FAT: fat})
	require.NoError(t, err)

	got, err := r.ResolveFAT(2, 1000)
	require.NoError(t, err)
	require.Len(t, got, 1000)

	want := append(bytes.Repeat([]byte{3}, 512), bytes.Repeat([]byte{1}, 488)...)
	assert.Equal(t, want, got)
}

func TestResolveShortChainReturnsAccumulated(t *testing.T) {
	t.Parallel()

	fat := fatOf(2)
	fat[1] = EndOfChain
	r, err := NewResolver(image(t, 512, 2), Tables{SectorSize: 512, FAT: fat})
	require.NoError(t, err)

	got, err := r.ResolveFAT(1, 5000)
	require.NoError(t, err)
	assert.Len(t, got, 512)
}

func TestResolveSectorBeyondSource(t *testing.T) {
	t.Parallel()

	fat := fatOf(10)
	fat[9] = EndOfChain
	r, err := NewResolver(image(t, 512, 4), Tables{SectorSize: 512, FAT: fat})
	require.NoError(t, err)

	_, err = r.ResolveFAT(9, 512)
	require.ErrorIs(t, err, window.ErrOutOfRange)
}

func TestResolveMiniFAT(t *testing.T) {
	t.Parallel()

	// Sectors 0 and 1 hold the mini stream: 16 mini sectors of 64 bytes.
	const sectorSize = 512
	data := make([]byte, sectorSize*3)
	for m := range 16 {
		start := sectorSize + m*DefaultMiniSectorSize
		copy(data[start:start+DefaultMiniSectorSize], bytes.Repeat([]byte{byte(0xA0 + m)}, DefaultMiniSectorSize))
	}
	src, err := window.FromBytes(data)
	require.NoError(t, err)

	fat := []uint32{1, EndOfChain}
	miniFAT := fatOf(16)
	miniFAT[7] = 2
	miniFAT[2] = EndOfChain

	r, err := NewResolver(src, Tables{
		SectorSize:      sectorSize,
		FAT:             fat,
		MiniFAT:         miniFAT,
		MiniStreamStart: 0,
		MiniStreamSize:  16 * DefaultMiniSectorSize,
	})
	require.NoError(t, err)

	got, err := r.Resolve(7, 100)
	require.NoError(t, err)
	want := append(bytes.Repeat([]byte{0xA7}, 64), bytes.Repeat([]byte{0xA2}, 36)...)
	assert.Equal(t, want, got)

	// Mini sectors past the mini stream and links outside the MiniFAT are invalid.
	r2, err := NewResolver(src, Tables{
		SectorSize:      sectorSize,
		FAT:             fat,
		MiniFAT:         []uint32{EndOfChain, EndOfChain, EndOfChain, EndOfChain, EndOfChain, 40},
		MiniStreamStart: 0,
		MiniStreamSize:  2 * DefaultMiniSectorSize,
	})
	require.NoError(t, err)
	_, err = r2.Resolve(3, 64)
	require.ErrorIs(t, err, ErrInvalidChain)
	_, err = r2.Resolve(5, 64)
	require.ErrorIs(t, err, ErrInvalidChain)
}

func TestResolveSelectsTableByCutoff(t *testing.T) {
	t.Parallel()

	fat := fatOf(4)
	fat[0] = EndOfChain // mini stream
	fat[3] = EndOfChain
	src := image(t, 512, 4)
	r, err := NewResolver(src, Tables{
		SectorSize:      512,
		FAT:             fat,
		MiniFAT:         []uint32{EndOfChain},
		MiniStreamStart: 0,
		MiniStreamSize:  512,
		Cutoff:          256,
	})
	require.NoError(t, err)

	small, err := r.Resolve(0, 10)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{1}, 10), small)

	large, err := r.Resolve(3, 300)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{4}, 300), large)
}

func TestMiniStreamCycleFailsEveryMiniEntry(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(image(t, 512, 2), Tables{
		SectorSize:      512,
		FAT:             []uint32{1, 0},
		MiniFAT:         []uint32{EndOfChain},
		MiniStreamStart: 0,
		MiniStreamSize:  1024,
	})
	require.NoError(t, err)

	for range 2 {
		_, err := r.ResolveMiniFAT(0, 10)
		require.ErrorIs(t, err, ErrInvalidChain)
	}
}

func TestTablesValidate(t *testing.T) {
	t.Parallel()

	src := image(t, 512, 1)
	_, err := NewResolver(src, Tables{SectorSize: 500})
	require.Error(t, err)

	_, err = NewResolver(src, Tables{SectorSize: 512, MiniSectorSize: 1024})
	require.Error(t, err)

	_, err = NewResolver(nil, Tables{SectorSize: 512})
	require.Error(t, err)

	r, err := NewResolver(src, Tables{SectorSize: 4096})
	require.NoError(t, err)
	tables := r.Tables()
	assert.Equal(t, int64(4096), tables.HeaderSize)
	assert.Equal(t, int64(DefaultMiniSectorSize), tables.MiniSectorSize)
	assert.Equal(t, int64(DefaultCutoff), tables.Cutoff)
}
