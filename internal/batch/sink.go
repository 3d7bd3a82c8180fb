package batch

import "io"

// Sink receives extracted entry content during batch processing.
//
// Implementations determine where content is written and can filter which
// items to process.
type Sink interface {
	// ShouldProcess returns false if this item should be skipped.
	// This allows implementations to skip existing files.
	ShouldProcess(item *Item) bool

	// Writer returns a writer for the item's content.
	// The returned Committer must have Commit() called after a successful
	// write, or Discard() called on any error.
	Writer(item *Item) (Committer, error)
}

// DirSink is implemented by sinks that can materialize directory items.
// Directory items sent to a sink without this capability are skipped.
type DirSink interface {
	Mkdir(item *Item) error
}

// Committer is a writer that can be committed or discarded.
//
// Implementations should stage writes until Commit is called. A file-based
// implementation writes to a temp file and renames it on Commit, or deletes
// it on Discard.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making content available.
	Commit() error

	// Discard aborts the write and cleans up any temporary resources.
	Discard() error
}
