package task

import "time"

// IterationStatus is the terminal classification of a completed iteration.
type IterationStatus string

const (
	IterationCompleted   IterationStatus = "completed"
	IterationFailed      IterationStatus = "failed"
	IterationInterrupted IterationStatus = "interrupted"
	IterationSkipped     IterationStatus = "skipped"
)

// IterationResult is immutable once appended to an EngineState or
// PersistedSession's iteration history.
type IterationResult struct {
	ID             string          `json:"id"`
	Iteration      uint            `json:"iteration"`
	Status         IterationStatus `json:"status"`
	Task           Task            `json:"task"`
	TaskCompleted  bool            `json:"taskCompleted"`
	DurationMs     uint            `json:"durationMs"`
	Error          string          `json:"error,omitempty"`
	StartedAt      time.Time       `json:"startedAt"`
	EndedAt        time.Time       `json:"endedAt"`
}
