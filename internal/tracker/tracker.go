// Package tracker defines the Tracker Adapter interface (C2): the engine's
// narrow view onto an external work-item store. Concrete tracker backends
// are out of scope; this package also ships one in-memory reference
// implementation used by tests and CLI smoke runs.
package tracker

import "github.com/ralph-tui/ralph-tui/internal/task"

// Adapter enumerates tasks and reports status changes back to whatever
// system of record backs it. The engine never reaches past this interface.
type Adapter interface {
	// Plugin identifies the tracker implementation, persisted into
	// PersistedSession.trackerState.plugin.
	Plugin() string
	// Tasks returns the current task list. Implementations may hit a
	// network or file on every call; the engine calls it at the start of
	// each iteration and again after the agent exits to check completion,
	// not per tick.
	Tasks() ([]task.Task, error)
	// UpdateStatus transitions a task's status in the tracker's system of
	// record. Unknown ids are an error.
	UpdateStatus(id string, status task.Status) error
}
