package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/meigma/unpak"
	"github.com/meigma/unpak/volume"
	"github.com/meigma/unpak/window"
)

const sample = `
max_entry_size: 4KiB
max_decoder_memory: 64MiB
decoder_lowmem: true
size_fallback: true
name_encoding: CP437
overwrite: false
workers: 4
debug: true
log_level: debug
log_format: json
volumes:
  scheme: indexed
  naming: token
  token: dir
  width: 3
  count: 2
`

func TestParse(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "4KiB", cfg.MaxEntrySize)
	require.NotNil(t, cfg.SizeFallback)
	assert.True(t, *cfg.SizeFallback)
	require.NotNil(t, cfg.DecoderLowmem)
	assert.True(t, *cfg.DecoderLowmem)
	require.NotNil(t, cfg.Workers)
	assert.Equal(t, 4, *cfg.Workers)
	require.NotNil(t, cfg.Volumes)
	assert.Equal(t, "dir", cfg.Volumes.Token)

	empty, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Config{}, empty)

	_, err = Parse([]byte("max_entry_sise: 1MB\n"))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)

	path := filepath.Join(dir, "unpak.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "CP437", cfg.NameEncoding)
}

type oneEntry struct{ e unpak.Entry }

func (m oneEntry) Entries() []unpak.Entry { return []unpak.Entry{m.e} }

func TestContainerOptionsApply(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	var logs bytes.Buffer
	logger, err := cfg.Logger(&logs)
	require.NoError(t, err)
	opts, err := cfg.ContainerOptions(logger)
	require.NoError(t, err)

	data := make([]byte, 8192)
	produce := func(e unpak.Entry) unpak.Producer[oneEntry] {
		return func(*window.Source) (oneEntry, error) { return oneEntry{e: e}, nil }
	}

	// max_entry_size is 4KiB.
	c, err := unpak.FromBytes(data, produce(unpak.Entry{Name: "big", Location: unpak.DirectRange(0, 5000), UncompressedSize: 5000}), opts...)
	require.NoError(t, err)
	_, err = c.ReadEntry(0)
	require.ErrorIs(t, err, unpak.ErrEntryTooLarge)

	// name_encoding is CP437.
	c, err = unpak.FromBytes(data, produce(unpak.Entry{RawName: []byte{'n', 0x81}, Location: unpak.DirectRange(0, 1), UncompressedSize: 1}), opts...)
	require.NoError(t, err)
	name, err := c.EntryName(0)
	require.NoError(t, err)
	assert.Equal(t, "nü", name)

	assert.Contains(t, logs.String(), `"msg":"opened container"`)
}

func TestContainerOptionsErrors(t *testing.T) {
	t.Parallel()

	for _, doc := range []string{
		"max_entry_size: lots\n",
		"max_decoder_memory: -1\n",
		"name_encoding: klingon\n",
	} {
		cfg, err := Parse([]byte(doc))
		require.NoError(t, err)
		_, err = cfg.ContainerOptions(nil)
		require.ErrorIs(t, err, ErrInvalid, doc)
	}
}

func TestExtractOptions(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Len(t, cfg.ExtractOptions(&bytes.Buffer{}), 3)
	assert.Len(t, cfg.ExtractOptions(nil), 2)
	assert.Empty(t, Config{}.ExtractOptions(nil))

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "keep.txt"), []byte("old"), 0o600))
	c, err := unpak.FromBytes([]byte("new"), func(*window.Source) (oneEntry, error) {
		return oneEntry{e: unpak.Entry{Name: "keep.txt", Location: unpak.DirectRange(0, 3), UncompressedSize: 3}}, nil
	})
	require.NoError(t, err)
	report, err := c.Extract(dest, cfg.ExtractOptions(nil)...)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
}

func TestLogger(t *testing.T) {
	t.Parallel()

	logger, err := Config{}.Logger(&bytes.Buffer{})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = Config{LogLevel: "loud"}.Logger(&bytes.Buffer{})
	require.ErrorIs(t, err, ErrInvalid)
	_, err = Config{LogFormat: "xml"}.Logger(&bytes.Buffer{})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLayout(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	l, ok, err := cfg.Layout()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, volume.Indexed, l.Scheme)
	assert.Equal(t, 2, l.Count)
	assert.Equal(t, filepath.FromSlash("x/pak01_001.vpk"), l.Namer(filepath.FromSlash("x/pak01_dir.vpk"), 1))

	_, ok, err = Config{}.Layout()
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = Config{Volumes: &Volumes{Scheme: "random"}}.Layout()
	require.ErrorIs(t, err, ErrInvalid)
	_, _, err = Config{Volumes: &Volumes{Naming: "token"}}.Layout()
	require.ErrorIs(t, err, ErrInvalid)
	l, _, err = Config{Volumes: &Volumes{Naming: "numbered_extension", Width: 3}}.Layout()
	require.NoError(t, err)
	assert.Equal(t, volume.Probed, l.Scheme)
}

func TestEncoding(t *testing.T) {
	t.Parallel()

	enc, err := Encoding(" Windows-1252 ")
	require.NoError(t, err)
	assert.Equal(t, charmap.Windows1252, enc)

	_, err = Encoding("ebcdic-klingon")
	require.ErrorIs(t, err, ErrInvalid)
}
