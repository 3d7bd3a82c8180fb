package unpak

import (
	"log/slog"

	"golang.org/x/text/encoding"

	"github.com/meigma/unpak/codec"
)

// DefaultMaxEntrySize is the default per-entry size limit (256MB).
const DefaultMaxEntrySize = 256 << 20

// Option configures a Container.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	codecs       *codec.Registry
	maxEntrySize uint64
	sizeFallback bool
	nameEncoding encoding.Encoding
}

func defaultOptions() options {
	return options{
		maxEntrySize: DefaultMaxEntrySize,
	}
}

// WithLogger sets the logger for container operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCodecs sets the decoder registry used for compressed entries.
// If not set, a registry with the built-in decoders is used.
func WithCodecs(r *codec.Registry) Option {
	return func(o *options) {
		o.codecs = r
	}
}

// WithMaxEntrySize limits the stored and uncompressed size of each entry.
// Set limit to 0 to disable the limit.
func WithMaxEntrySize(limit uint64) Option {
	return func(o *options) {
		o.maxEntrySize = limit
	}
}

// WithSizeFallback enables re-framing of direct entries whose stored range
// runs past the end of the container.
//
// Some archivers write the uncompressed size where the stored size belongs.
// When enabled, a direct entry whose [Offset, Offset+Length) exceeds the
// container but whose [Offset, Offset+UncompressedSize) fits is read with
// UncompressedSize as its length. The fallback is logged at warn level.
func WithSizeFallback(enabled bool) Option {
	return func(o *options) {
		o.sizeFallback = enabled
	}
}

// WithNameEncoding sets the character encoding used to decode Entry.RawName.
// If not set, raw names are treated as UTF-8.
func WithNameEncoding(enc encoding.Encoding) Option {
	return func(o *options) {
		o.nameEncoding = enc
	}
}
