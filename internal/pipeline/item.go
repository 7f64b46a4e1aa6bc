package pipeline

import (
	"time"
)

// Stage names a point in a work item's lifecycle.
type Stage string

const (
	StageDiscovered  Stage = "discovered"
	StageStabilizing Stage = "stabilizing"
	StageDeciding    Stage = "deciding"
	StageWriting     Stage = "writing"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

// WorkItem is one queued lifecycle of a source path.
type WorkItem struct {
	SourcePath   string
	RelativePath string
	DiscoveredAt time.Time
	// CorrelationID ties together every log line of this lifecycle.
	CorrelationID string

	Stage             Stage
	Attempts          int
	StabilityFailures int
	DecisionFailures  int
}
