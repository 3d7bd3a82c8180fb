package batch

// Event represents a progress update during extraction.
type Event struct {
	// Stage identifies what just happened to the item.
	Stage Stage

	// Index is the entry index of the item.
	Index int

	// Path is the sanitized destination path of the item.
	Path string

	// Bytes is the number of content bytes written for the item.
	Bytes int64

	// FilesDone is the number of items finished so far, including this one
	// for terminal stages.
	FilesDone int

	// FilesTotal is the total number of items in the batch.
	FilesTotal int

	// Err is set for StageFailed.
	Err error
}

// Stage identifies the state of an item in an extraction.
type Stage uint8

// Extraction stages.
const (
	// StageExtracting indicates the item has started processing.
	StageExtracting Stage = iota

	// StageExtracted indicates the item was written.
	StageExtracted

	// StageSkipped indicates the sink declined the item.
	StageSkipped

	// StageFailed indicates the item failed.
	StageFailed
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageExtracting:
		return "extracting"
	case StageExtracted:
		return "extracted"
	case StageSkipped:
		return "skipped"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(Event)
