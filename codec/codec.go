// Package codec dispatches entry payloads to decompression algorithms.
//
// A Registry maps a Method to a Decoder. Common modern algorithms are
// registered by default; legacy installer and game codecs are registered by
// callers that implement them. The registry owns only dispatch and output
// size enforcement; decoding correctness belongs to each Decoder.
package codec

import (
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/meigma/unpak/internal/sizing"
)

const (
	// DefaultMaxOutput bounds the output of decoders when the size is unknown (256MB).
	DefaultMaxOutput = 256 << 20

	// DefaultMaxDecoderMemory is the default maximum zstd decoder memory (256MB).
	DefaultMaxDecoderMemory = 256 << 20
)

// Sentinel errors.
var (
	// ErrDecode is returned when a decoder rejects its input or produces
	// output of the wrong size.
	ErrDecode = errors.New("codec: decode failed")

	// ErrUnsupported is returned when no decoder is registered for a method.
	ErrUnsupported = errors.New("codec: unsupported method")
)

// Decoder turns compressed bytes into exactly size decompressed bytes.
// A negative size means the decompressed size is unknown.
// Implementations must be safe for concurrent use.
type Decoder interface {
	Decode(src []byte, size int64) ([]byte, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(src []byte, size int64) ([]byte, error)

// Decode calls f.
func (f DecoderFunc) Decode(src []byte, size int64) ([]byte, error) {
	return f(src, size)
}

// Registry maps methods to decoders. It is safe for concurrent use.
type Registry struct {
	mu               sync.RWMutex
	decoders         map[Method]Decoder
	maxOutput        int64
	maxDecoderMemory uint64
	decoderLowmem    bool
	builtins         bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxOutput bounds decoder output when the declared size is unknown.
func WithMaxOutput(limit int64) Option {
	return func(r *Registry) {
		r.maxOutput = limit
	}
}

// WithMaxDecoderMemory limits the memory used by zstd decoders.
// Set limit to 0 to disable the limit.
func WithMaxDecoderMemory(limit uint64) Option {
	return func(r *Registry) {
		r.maxDecoderMemory = limit
	}
}

// WithDecoderLowmem makes zstd decoders allocate smaller buffers at the
// cost of speed.
func WithDecoderLowmem(enabled bool) Option {
	return func(r *Registry) {
		r.decoderLowmem = enabled
	}
}

// WithDecoder registers d for m, replacing any built-in decoder.
func WithDecoder(m Method, d Decoder) Option {
	return func(r *Registry) {
		r.decoders[m] = d
	}
}

// WithoutBuiltins leaves the registry empty apart from WithDecoder entries.
func WithoutBuiltins() Option {
	return func(r *Registry) {
		r.builtins = false
	}
}

// NewRegistry returns a registry with the built-in decoders.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		decoders:         make(map[Method]Decoder),
		maxOutput:        DefaultMaxOutput,
		maxDecoderMemory: DefaultMaxDecoderMemory,
		builtins:         true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.builtins {
		for m, d := range r.builtinDecoders() {
			if _, ok := r.decoders[m]; !ok {
				r.decoders[m] = d
			}
		}
	}
	return r
}

// Register installs d for m, replacing any existing decoder.
func (r *Registry) Register(m Method, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[m] = d
}

// Lookup returns the decoder registered for m.
func (r *Registry) Lookup(m Method) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[m]
	return d, ok
}

// Decode decompresses src with the decoder registered for m.
//
// The result must be exactly size bytes when size is non-negative. Failures
// wrap ErrDecode; a missing decoder additionally wraps ErrUnsupported.
func (r *Registry) Decode(m Method, src []byte, size int64) ([]byte, error) {
	if m == None {
		if size >= 0 && int64(len(src)) != size {
			return nil, fmt.Errorf("%w: stored size %d, declared %d", ErrDecode, len(src), size)
		}
		return src, nil
	}

	d, ok := r.Lookup(m)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrDecode, ErrUnsupported, m)
	}
	out, err := d.Decode(src, size)
	if err != nil {
		if errors.Is(err, ErrDecode) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, m, err)
	}
	if size >= 0 && int64(len(out)) != size {
		return nil, fmt.Errorf("%w: %s: produced %d bytes, declared %d", ErrDecode, m, len(out), size)
	}
	if size < 0 && r.maxOutput > 0 && int64(len(out)) > r.maxOutput {
		return nil, fmt.Errorf("%w: %s: output exceeds %d bytes", ErrDecode, m, r.maxOutput)
	}
	return out, nil
}

func (r *Registry) builtinDecoders() map[Method]Decoder {
	limit := r.maxOutput
	stream := func(open opener) Decoder {
		return DecoderFunc(func(src []byte, size int64) ([]byte, error) {
			return decodeStream(src, size, limit, open)
		})
	}
	zpool := NewDecompressPool(r.maxDecoderMemory, r.decoderLowmem)
	return map[Method]Decoder{
		Deflate: stream(func(rd io.Reader) (io.Reader, func(), error) {
			fr := flate.NewReader(rd)
			return fr, func() { _ = fr.Close() }, nil
		}),
		Zlib: stream(func(rd io.Reader) (io.Reader, func(), error) {
			zr, err := zlib.NewReader(rd)
			if err != nil {
				return nil, nil, err
			}
			return zr, func() { _ = zr.Close() }, nil
		}),
		Gzip: stream(func(rd io.Reader) (io.Reader, func(), error) {
			gr, err := gzip.NewReader(rd)
			if err != nil {
				return nil, nil, err
			}
			return gr, func() { _ = gr.Close() }, nil
		}),
		Zstd: stream(zpool.open),
		XZ: stream(func(rd io.Reader) (io.Reader, func(), error) {
			xr, err := xz.NewReader(rd)
			if err != nil {
				return nil, nil, err
			}
			return xr, func() {}, nil
		}),
		LZMA: stream(func(rd io.Reader) (io.Reader, func(), error) {
			lr, err := lzma.NewReader(rd)
			if err != nil {
				return nil, nil, err
			}
			return lr, func() {}, nil
		}),
		BZip2: stream(func(rd io.Reader) (io.Reader, func(), error) {
			return bzip2.NewReader(rd), func() {}, nil
		}),
		Brotli: stream(func(rd io.Reader) (io.Reader, func(), error) {
			return brotli.NewReader(rd), func() {}, nil
		}),
		Snappy: DecoderFunc(func(src []byte, _ int64) ([]byte, error) {
			return snappy.Decode(nil, src)
		}),
		S2: DecoderFunc(func(src []byte, _ int64) ([]byte, error) {
			return s2.Decode(nil, src)
		}),
		LZ4: DecoderFunc(decodeLZ4Block),
	}
}

// decodeLZ4Block decodes a raw LZ4 block. Blocks carry no size, so the
// declared size is required.
func decodeLZ4Block(src []byte, size int64) ([]byte, error) {
	if size < 0 {
		return nil, errors.New("lz4 block requires a declared size")
	}
	n, err := sizing.ToInt(size, ErrDecode)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, n)
	got, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	return dst[:got], nil
}

// opener wraps compressed input in a decompressing reader. The returned
// release function is always called once decoding finishes.
type opener func(io.Reader) (io.Reader, func(), error)

// decodeStream reads the decompressed stream produced by open. When size is
// negative the output is bounded by limit instead (0 means DefaultMaxOutput).
func decodeStream(src []byte, size, limit int64, open opener) ([]byte, error) {
	rd, release, err := open(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer release()

	if size >= 0 {
		limit = size
	} else if limit <= 0 {
		limit = DefaultMaxOutput
	}
	out, err := sizing.ReadAllWithLimit(rd, limit, fmt.Errorf("%w: output exceeds %d bytes", ErrDecode, limit))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: unexpected EOF", ErrDecode)
		}
		return nil, err
	}
	return out, nil
}
