// Package session implements the crash-safe per-working-directory session
// file (C3): the durable record of one continuous engine run.
package session

import (
	"time"

	"github.com/ralph-tui/ralph-tui/internal/task"
)

// SchemaVersion is the only version this store writes. Older or newer
// versions found on load are parsed best-effort with a warning.
const SchemaVersion = 1

// Status is the persisted session's lifecycle state, distinct from the
// in-memory engine's state machine.
type Status string

const (
	StatusRunning     Status = "running"
	StatusPaused      Status = "paused"
	StatusInterrupted Status = "interrupted"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Resumable reports whether a session in this status can be continued.
func (s Status) Resumable() bool {
	switch s {
	case StatusRunning, StatusPaused, StatusInterrupted:
		return true
	default:
		return false
	}
}

// TaskSnapshot is the tracker-owned task shape as last observed by the
// engine, embedded in the session for offline inspection and resume.
type TaskSnapshot struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Status      task.Status `json:"status"`
	Priority    int         `json:"priority,omitempty"`
}

// TrackerState is the tracker-scoped slice of the session: which plugin
// produced the tasks, and the last known task list.
type TrackerState struct {
	Plugin     string         `json:"plugin"`
	EpicID     string         `json:"epicId,omitempty"`
	PRDPath    string         `json:"prdPath,omitempty"`
	TotalTasks int            `json:"totalTasks"`
	Tasks      []TaskSnapshot `json:"tasks"`
}

// PersistedIterationResult is the on-disk counterpart of task.IterationResult;
// it is flattened because the session file must remain stable even if the
// in-memory engine's wire shape changes.
type PersistedIterationResult struct {
	Iteration     uint      `json:"iteration"`
	Status        string    `json:"status"`
	TaskID        string    `json:"taskId"`
	TaskCompleted bool      `json:"taskCompleted"`
	DurationMs    uint      `json:"durationMs"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	EndedAt       time.Time `json:"endedAt"`
}

// PersistedSession is the full on-disk shape stored at
// "<cwd>/.ralph-tui-session.json".
type PersistedSession struct {
	Version          int                         `json:"version"`
	SessionID        string                      `json:"sessionId"`
	Status           Status                      `json:"status"`
	StartedAt        time.Time                   `json:"startedAt"`
	UpdatedAt        time.Time                   `json:"updatedAt"`
	PausedAt         *time.Time                  `json:"pausedAt,omitempty"`
	CurrentIteration uint                        `json:"currentIteration"`
	MaxIterations    uint                        `json:"maxIterations"`
	TasksCompleted   uint                        `json:"tasksCompleted"`
	IsPaused         bool                        `json:"isPaused"`
	AgentPlugin      string                      `json:"agentPlugin"`
	Model            string                      `json:"model,omitempty"`
	TrackerState     TrackerState                `json:"trackerState"`
	Iterations       []PersistedIterationResult  `json:"iterations"`
	SkippedTaskIDs   []string                    `json:"skippedTaskIds"`
	Cwd              string                      `json:"cwd"`
}
