package unpak

import "github.com/meigma/unpak/internal/batch"

// Re-export progress types from the batch processor.
type (
	// ProgressEvent represents a progress update during extraction.
	ProgressEvent = batch.Event

	// ProgressStage identifies the state of an entry during extraction.
	ProgressStage = batch.Stage

	// ProgressFunc receives progress updates during extraction.
	// Implementations must be safe for concurrent calls.
	ProgressFunc = batch.ProgressFunc
)

// Re-export progress stage constants.
const (
	// StageExtracting indicates the entry has started processing.
	StageExtracting = batch.StageExtracting

	// StageExtracted indicates the entry was written.
	StageExtracted = batch.StageExtracted

	// StageSkipped indicates the entry was skipped because its destination exists.
	StageSkipped = batch.StageSkipped

	// StageFailed indicates the entry failed.
	StageFailed = batch.StageFailed
)
