// Package batch runs best-effort extraction of container entries into a sink.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	digest "github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
)

// ErrWrite is returned when the sink fails to materialize an item.
var ErrWrite = errors.New("batch: write failed")

// Processor extracts items into a sink.
//
// Every item is attempted regardless of earlier failures; the outcome of
// each item is reported in its Result. Only cancellation of the context
// stops new items from being started.
type Processor struct {
	workers  int // <=1 = serial, >1 = fixed count
	logger   *slog.Logger
	progress ProgressFunc
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Processor) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of items processed concurrently.
// Values below 2 force serial processing.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithProcessorLogger sets the logger for batch processing operations.
// If not set, logging is disabled.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithProgress sets a callback that receives an event when each item starts
// and when it finishes.
func WithProgress(fn ProgressFunc) ProcessorOption {
	return func(p *Processor) {
		p.progress = fn
	}
}

// NewProcessor creates a new batch processor.
func NewProcessor(opts ...ProcessorOption) *Processor {
	p := &Processor{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process extracts items into sink and returns one Result per item, in the
// order of items.
//
// Items not started before ctx is done fail with the context's error.
func (p *Processor) Process(ctx context.Context, items []*Item, sink Sink) []Result {
	results := make([]Result, len(items))
	if len(items) == 0 {
		return results
	}

	var done atomic.Int64
	run := func(i int) {
		item := items[i]
		if err := ctx.Err(); err != nil {
			results[i] = Result{Item: item, Err: err}
		} else {
			p.emit(Event{Stage: StageExtracting, Index: item.Index, Path: item.Path, FilesDone: int(done.Load()), FilesTotal: len(items)})
			results[i] = p.processItem(item, sink)
		}
		p.finish(results[i], int(done.Add(1)), len(items))
	}

	workers := min(p.workers, len(items))
	p.log().Debug("batch processing", "items", len(items), "workers", max(workers, 1))

	if workers < 2 {
		for i := range items {
			run(i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(workers)
		for i := range items {
			g.Go(func() error {
				run(i)
				return nil
			})
		}
		_ = g.Wait() //nolint:errcheck // workers never return errors
	}

	stats := Summarize(results)
	p.log().Debug("batch complete",
		"extracted", stats.Extracted,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"bytes", stats.HumanBytes())
	return results
}

// processItem loads, writes and commits a single item.
func (p *Processor) processItem(item *Item, sink Sink) Result {
	res := Result{Item: item}
	if !sink.ShouldProcess(item) {
		res.Skipped = true
		return res
	}

	if item.Dir {
		ds, ok := sink.(DirSink)
		if !ok {
			res.Skipped = true
			return res
		}
		if err := ds.Mkdir(item); err != nil {
			res.Err = fmt.Errorf("%w: %s: %w", ErrWrite, item.Path, err)
		}
		return res
	}

	content, err := item.Load()
	if err != nil {
		res.Err = err
		return res
	}

	w, err := sink.Writer(item)
	if err != nil {
		res.Err = fmt.Errorf("%w: %s: %w", ErrWrite, item.Path, err)
		return res
	}
	if err := writeAll(w, content); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		res.Err = fmt.Errorf("%w: %s: %w", ErrWrite, item.Path, err)
		return res
	}
	if err := w.Commit(); err != nil {
		res.Err = fmt.Errorf("%w: %s: commit: %w", ErrWrite, item.Path, err)
		return res
	}

	res.Bytes = int64(len(content))
	res.Digest = digest.FromBytes(content)
	p.log().Debug("extracted entry",
		"index", item.Index,
		"path", item.Path,
		"size", humanize.IBytes(uint64(len(content))),
		"digest", res.Digest.String())
	return res
}

// finish logs the outcome of an item and emits its terminal event.
func (p *Processor) finish(res Result, done, total int) {
	ev := Event{
		Index:      res.Item.Index,
		Path:       res.Item.Path,
		Bytes:      res.Bytes,
		FilesDone:  done,
		FilesTotal: total,
	}
	switch {
	case res.Err != nil:
		ev.Stage = StageFailed
		ev.Err = res.Err
		p.log().Warn("entry failed", "index", res.Item.Index, "name", res.Item.Name, "error", res.Err)
	case res.Skipped:
		ev.Stage = StageSkipped
	default:
		ev.Stage = StageExtracted
	}
	p.emit(ev)
}

func (p *Processor) emit(ev Event) {
	if p.progress != nil {
		p.progress(ev)
	}
}

// writeAll writes all data to w, handling partial writes.
func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
