package volume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeParts(t *testing.T, dir string, parts map[string]string) {
	t.Helper()
	for name, content := range parts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
}

func TestProbeStopsAtFirstMissing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeParts(t, dir, map[string]string{
		"pack000.bin": "zero",
		"pack001.bin": "one!",
		"pack003.bin": "gap",
	})

	set, err := Probe(filepath.Join(dir, "pack000.bin"), TrailingNumber(3), 0)
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	p, err := set.Part(1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "pack001.bin"), p.Path)
	assert.Equal(t, int64(4), p.Size)

	_, err = set.Part(2)
	require.ErrorIs(t, err, ErrVolumeNotFound)
	_, err = set.Part(-1)
	require.ErrorIs(t, err, ErrVolumeNotFound)
}

func TestProbeHonorsLimit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeParts(t, dir, map[string]string{
		"disc.001": "a",
		"disc.002": "b",
		"disc.003": "c",
	})

	set, err := Discover(filepath.Join(dir, "disc.001"), Layout{Scheme: Probed, Namer: NumberedExtension(3), Max: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
}

func TestEnumerateRecordsGaps(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeParts(t, dir, map[string]string{
		"pak01_dir.vpk": "directory",
		"pak01_000.vpk": "first",
		"pak01_002.vpk": "third",
	})

	set, err := Discover(filepath.Join(dir, "pak01_dir.vpk"), Layout{Scheme: Indexed, Namer: ReplaceToken("dir", 3), Count: 3})
	require.NoError(t, err)
	require.Equal(t, 3, set.Len())

	_, err = set.Part(1)
	require.ErrorIs(t, err, ErrVolumeNotFound)

	data, err := set.ReadRange(2, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("hir"), data)

	parts := set.Parts()
	assert.True(t, parts[1].Missing)
	assert.False(t, parts[0].Missing)

	_, err = set.ReadRange(3, 0, 1)
	require.ErrorIs(t, err, ErrVolumeNotFound)
}

func TestReadRangeRejectsTruncatedPart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeParts(t, dir, map[string]string{"data0.cab": "0123456789"})

	set, err := Probe(filepath.Join(dir, "data0.cab"), TrailingNumber(0), 0)
	require.NoError(t, err)

	data, err := set.ReadRange(0, 2, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("23456789"), data)

	_, err = set.ReadRange(0, 5, 6)
	require.ErrorIs(t, err, ErrVolumeNotFound)

	empty, err := set.ReadRange(0, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	// The part shrinks after discovery.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data0.cab"), []byte("0123"), 0o600))
	_, err = set.ReadRange(0, 2, 8)
	require.ErrorIs(t, err, ErrVolumeNotFound)
}

func TestDiscoverErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := Probe(filepath.Join(dir, "nodigits.bin"), TrailingNumber(3), 0)
	require.Error(t, err)

	_, err = Probe(filepath.Join(dir, "x.bin"), nil, 0)
	require.Error(t, err)

	_, err = Enumerate(filepath.Join(dir, "x.bin"), TrailingNumber(3), -1)
	require.Error(t, err)

	_, err = Discover(filepath.Join(dir, "x.bin"), Layout{Scheme: Scheme(9)})
	require.Error(t, err)

	_, err = Probe(filepath.Join(dir, "missing", "pack000.bin"), TrailingNumber(3), 0)
	require.ErrorIs(t, err, ErrVolumeNotFound)

	set, err := Probe(filepath.Join(dir, "pack000.bin"), TrailingNumber(3), 0)
	require.NoError(t, err)
	assert.Zero(t, set.Len())
}

func TestNamers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		namer   Namer
		primary string
		index   int
		want    string
	}{
		{name: "trailing number", namer: TrailingNumber(3), primary: "dir/pack000.bin", index: 12, want: "dir/pack012.bin"},
		{name: "trailing number unpadded", namer: TrailingNumber(0), primary: "data1.cab", index: 4, want: "data4.cab"},
		{name: "trailing number without digits", namer: TrailingNumber(3), primary: "pack.bin", index: 1, want: ""},
		{name: "token", namer: ReplaceToken("dir", 3), primary: "hl2/pak01_dir.vpk", index: 7, want: "hl2/pak01_007.vpk"},
		{name: "token missing", namer: ReplaceToken("dir", 3), primary: "pak01.vpk", index: 0, want: ""},
		{name: "part suffix", namer: PartSuffix(), primary: "game.part1.rar", index: 2, want: "game.part3.rar"},
		{name: "part suffix padded", namer: PartSuffix(), primary: "game.part01.rar", index: 9, want: "game.part10.rar"},
		{name: "numbered extension", namer: NumberedExtension(3), primary: "image.001", index: 1, want: "image.002"},
		{name: "sequence", namer: Sequence("a.dat", "b.dat"), primary: "d/main.idx", index: 1, want: "d/b.dat"},
		{name: "sequence exhausted", namer: Sequence("a.dat"), primary: "d/main.idx", index: 1, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			want := tt.want
			if want != "" {
				want = filepath.FromSlash(want)
			}
			assert.Equal(t, want, tt.namer(filepath.FromSlash(tt.primary), tt.index))
		})
	}
}
