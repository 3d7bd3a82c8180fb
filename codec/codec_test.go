package codec

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

var payload = bytes.Repeat([]byte("legacy container payload "), 200)

func deflateBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestBuiltinDecoders(t *testing.T) {
	t.Parallel()

	zlibData := func() []byte {
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		_, err := w.Write(payload)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return buf.Bytes()
	}()

	zstdData := func() []byte {
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		defer enc.Close()
		return enc.EncodeAll(payload, nil)
	}()

	xzData := func() []byte {
		var buf bytes.Buffer
		w, err := xz.NewWriter(&buf)
		require.NoError(t, err)
		_, err = w.Write(payload)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return buf.Bytes()
	}()

	brotliData := func() []byte {
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		_, err := w.Write(payload)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return buf.Bytes()
	}()

	lz4Data := func() []byte {
		dst := make([]byte, lz4.CompressBlockBound(len(payload)))
		n, err := lz4.CompressBlock(payload, dst, nil)
		require.NoError(t, err)
		return dst[:n]
	}()

	tests := []struct {
		method Method
		data   []byte
	}{
		{Deflate, deflateBytes(t, payload)},
		{Zlib, zlibData},
		{Zstd, zstdData},
		{XZ, xzData},
		{Brotli, brotliData},
		{Snappy, snappy.Encode(nil, payload)},
		{LZ4, lz4Data},
	}

	reg := NewRegistry()
	for _, tt := range tests {
		t.Run(tt.method.String(), func(t *testing.T) {
			t.Parallel()
			got, err := reg.Decode(tt.method, tt.data, int64(len(payload)))
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestDecodeSizeMismatch(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	data := deflateBytes(t, payload)

	_, err := reg.Decode(Deflate, data, int64(len(payload))+1)
	require.ErrorIs(t, err, ErrDecode)

	_, err = reg.Decode(Deflate, data, int64(len(payload))-1)
	require.ErrorIs(t, err, ErrDecode)

	got, err := reg.Decode(Deflate, data, -1)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecodeCorruptInput(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	data := deflateBytes(t, payload)

	_, err := reg.Decode(Deflate, data[:len(data)/2], int64(len(payload)))
	require.ErrorIs(t, err, ErrDecode)

	_, err = reg.Decode(Zlib, []byte("not zlib at all"), 10)
	require.ErrorIs(t, err, ErrDecode)
}

func TestDecodeNone(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	got, err := reg.Decode(None, []byte("abc"), 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	_, err = reg.Decode(None, []byte("abc"), 4)
	require.ErrorIs(t, err, ErrDecode)
}

func TestLegacyMethodsRequireRegistration(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_, err := reg.Decode(SZDD, []byte("SZDD"), 4)
	require.ErrorIs(t, err, ErrDecode)
	require.ErrorIs(t, err, ErrUnsupported)

	boom := errors.New("bad window")
	reg.Register(Blast, DecoderFunc(func([]byte, int64) ([]byte, error) { return nil, boom }))
	reg.Register(SZDD, DecoderFunc(func(src []byte, size int64) ([]byte, error) {
		return bytes.ToUpper(src), nil
	}))

	got, err := reg.Decode(SZDD, []byte("abcd"), 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("ABCD"), got)

	_, err = reg.Decode(Blast, []byte("x"), 1)
	require.ErrorIs(t, err, ErrDecode)
	require.ErrorIs(t, err, boom)
}

func TestRegistryOptions(t *testing.T) {
	t.Parallel()

	custom := DecoderFunc(func(src []byte, _ int64) ([]byte, error) { return src, nil })
	reg := NewRegistry(WithoutBuiltins(), WithDecoder(Quantum, custom))

	_, ok := reg.Lookup(Deflate)
	assert.False(t, ok)
	_, ok = reg.Lookup(Quantum)
	assert.True(t, ok)

	reg = NewRegistry(WithDecoder(Deflate, custom))
	got, err := reg.Decode(Deflate, []byte("raw"), 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), got)

	limited := NewRegistry(WithMaxOutput(100))
	_, err = limited.Decode(Deflate, deflateBytes(t, payload), -1)
	require.ErrorIs(t, err, ErrDecode)
}

func TestLowmemZstdDecode(t *testing.T) {
	t.Parallel()

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	data := enc.EncodeAll(payload, nil)
	require.NoError(t, enc.Close())

	pool := NewDecompressPool(0, true)
	assert.True(t, pool.lowmem)

	reg := NewRegistry(WithDecoderLowmem(true), WithMaxDecoderMemory(8<<20))
	assert.True(t, reg.decoderLowmem)
	got, err := reg.Decode(Zstd, data, int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestConcurrentZstdDecode(t *testing.T) {
	t.Parallel()

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	data := enc.EncodeAll(payload, nil)
	require.NoError(t, enc.Close())

	reg := NewRegistry()
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Go(func() {
			got, err := reg.Decode(Zstd, data, int64(len(payload)))
			if err == nil && !bytes.Equal(got, payload) {
				err = errors.New("payload mismatch")
			}
			errs <- err
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestMethodNames(t *testing.T) {
	t.Parallel()

	for _, m := range []Method{None, Deflate, Zstd, LZ4, SZDD, Quantum, MSZIP} {
		parsed, ok := ParseMethod(m.String())
		require.True(t, ok, m.String())
		assert.Equal(t, m, parsed)
	}
	assert.Equal(t, "unknown", Method(200).String())
	_, ok := ParseMethod("nope")
	assert.False(t, ok)
}
