package unpak

import "io"

// ExtractOption configures Extract and ExtractContext.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	overwrite bool
	workers   int
	debug     io.Writer
	progress  ProgressFunc
}

func defaultExtractConfig() extractConfig {
	return extractConfig{
		overwrite: true,
	}
}

// WithOverwrite controls whether existing files are replaced (default: true).
// When false, entries whose destination exists are skipped.
func WithOverwrite(overwrite bool) ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = overwrite
	}
}

// WithWorkers sets the number of entries extracted concurrently.
// Values below 2 extract serially, in entry order.
func WithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// WithDebugOutput writes one JSON line per failed entry to w.
// It never changes extraction outcomes.
func WithDebugOutput(w io.Writer) ExtractOption {
	return func(c *extractConfig) {
		c.debug = w
	}
}

// WithProgress sets a callback for extraction progress.
func WithProgress(fn ProgressFunc) ExtractOption {
	return func(c *extractConfig) {
		c.progress = fn
	}
}
