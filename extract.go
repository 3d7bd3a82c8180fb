package unpak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/unpak/internal/batch"
)

// Report summarizes an extraction.
type Report struct {
	// Extracted is the number of entries written.
	Extracted int

	// Skipped is the number of entries whose destination already existed.
	Skipped int

	// Failed is the number of entries that failed.
	Failed int

	// Bytes is the total size of the written content.
	Bytes int64

	// Entries holds one result per attempted entry, in entry order.
	Entries []EntryResult
}

// OK reports whether no entry failed.
func (r Report) OK() bool {
	return r.Failed == 0
}

// EntryResult is the outcome of extracting one entry.
type EntryResult struct {
	Index   int
	Name    string
	Path    string
	Skipped bool
	Bytes   int64
	Digest  digest.Digest
	Err     error
}

// Extract writes every entry below dest. See ExtractContext.
func (c *Container[M]) Extract(dest string, opts ...ExtractOption) (Report, error) {
	return c.ExtractContext(context.Background(), dest, opts...)
}

// ExtractContext writes every entry below dest.
//
// Extraction is best effort: every entry is attempted regardless of earlier
// failures and successfully written entries stay on disk. The returned error
// joins one *EntryError per failed entry. Cancelling ctx stops new entries
// from being started; entries already in flight complete.
func (c *Container[M]) ExtractContext(ctx context.Context, dest string, opts ...ExtractOption) (Report, error) {
	indices := make([]int, len(c.entries))
	for i := range indices {
		indices[i] = i
	}
	return c.extract(ctx, dest, indices, opts)
}

// ExtractEntries writes the entries at the given indexes below dest.
func (c *Container[M]) ExtractEntries(ctx context.Context, dest string, indices []int, opts ...ExtractOption) (Report, error) {
	return c.extract(ctx, dest, indices, opts)
}

// ExtractAll writes every entry below dest and reports whether all of them
// succeeded. When includeDebugOutput is set, failures are written to stderr.
func (c *Container[M]) ExtractAll(dest string, includeDebugOutput bool) bool {
	_, err := c.Extract(dest, debugOption(includeDebugOutput))
	return err == nil
}

// ExtractOne writes entry index below dest and reports whether it succeeded.
// When includeDebugOutput is set, a failure is written to stderr.
func (c *Container[M]) ExtractOne(index int, dest string, includeDebugOutput bool) bool {
	_, err := c.ExtractEntries(context.Background(), dest, []int{index}, debugOption(includeDebugOutput))
	return err == nil
}

func debugOption(enabled bool) ExtractOption {
	if !enabled {
		return func(*extractConfig) {}
	}
	return WithDebugOutput(os.Stderr)
}

func (c *Container[M]) extract(ctx context.Context, dest string, indices []int, opts []ExtractOption) (Report, error) {
	cfg := defaultExtractConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := os.MkdirAll(dest, 0o750); err != nil {
		return Report{}, fmt.Errorf("%w: create destination %s: %w", ErrWrite, dest, err)
	}

	items := make([]*batch.Item, len(indices))
	for n, i := range indices {
		items[n] = c.item(i)
	}

	proc := batch.NewProcessor(
		batch.WithWorkers(cfg.workers),
		batch.WithProcessorLogger(c.logger),
		batch.WithProgress(cfg.progress),
	)
	sink := batch.NewFileSink(dest, batch.WithOverwrite(cfg.overwrite))
	results := proc.Process(ctx, items, sink)

	stats := batch.Summarize(results)
	report := Report{
		Extracted: stats.Extracted,
		Skipped:   stats.Skipped,
		Failed:    stats.Failed,
		Bytes:     stats.Bytes,
		Entries:   make([]EntryResult, len(results)),
	}
	var errs []error
	for n, r := range results {
		er := EntryResult{
			Index:   r.Item.Index,
			Name:    r.Item.Name,
			Path:    r.Item.Path,
			Skipped: r.Skipped,
			Bytes:   r.Bytes,
			Digest:  r.Digest,
		}
		if r.Err != nil {
			er.Err = entryError(r.Item.Index, r.Item.Name, failedOp(r.Err), r.Err)
			errs = append(errs, er.Err)
		}
		report.Entries[n] = er
	}

	if cfg.debug != nil && len(errs) > 0 {
		writeFailures(cfg.debug, report.Entries)
	}
	c.log().Info("extraction complete",
		"dest", dest,
		"extracted", stats.Extracted,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"bytes", stats.HumanBytes())
	return report, errors.Join(errs...)
}

// item builds the batch item for entry i.
func (c *Container[M]) item(i int) *batch.Item {
	e, err := c.Entry(i)
	if err != nil {
		return failedItem(i, "", OpResolve, err)
	}
	name, err := c.entryName(e)
	if err != nil {
		return failedItem(i, "", OpResolve, err)
	}
	path, dir, err := destinationPath(i, name, e.Dir)
	if err != nil {
		return failedItem(i, name, OpResolve, err)
	}
	return &batch.Item{
		Index: i,
		Name:  name,
		Path:  path,
		Dir:   dir,
		Size:  e.UncompressedSize,
		Load: func() ([]byte, error) {
			return c.ReadEntry(i)
		},
	}
}

// failedItem returns an item that fails when loaded. Its empty path is
// never written.
func failedItem(i int, name, op string, err error) *batch.Item {
	err = &EntryError{Index: i, Name: name, Op: op, Err: err}
	return &batch.Item{
		Index: i,
		Name:  name,
		Size:  -1,
		Load: func() ([]byte, error) {
			return nil, err
		},
	}
}

func failedOp(err error) string {
	switch {
	case errors.Is(err, ErrWrite):
		return OpWrite
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OpExtract
	default:
		return OpResolve
	}
}

// failureRecord is the JSON line written for each failed entry.
type failureRecord struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Path  string `json:"path,omitempty"`
	Op    string `json:"op"`
	Error string `json:"error"`
}

// writeFailures writes one JSON line per failed entry. Write errors are
// ignored; debug output never changes the extraction outcome.
func writeFailures(w io.Writer, results []EntryResult) {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		rec := failureRecord{
			Index: r.Index,
			Name:  r.Name,
			Path:  r.Path,
			Op:    OpExtract,
			Error: r.Err.Error(),
		}
		var ee *EntryError
		if errors.As(r.Err, &ee) {
			rec.Op = ee.Op
			rec.Error = ee.Err.Error()
		}
		_ = enc.Encode(rec) //nolint:errcheck // debug output is best effort
	}
}
