package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/ralph-tui/ralph-tui/internal/task"
)

// CreateParams groups the inputs to CreatePersisted; kept separate from
// PersistedSession so callers can't accidentally hand the mutator a
// half-populated session and skip required fields.
type CreateParams struct {
	Cwd           string
	AgentPlugin   string
	Model         string
	MaxIterations uint
	TrackerPlugin string
	EpicID        string
	PRDPath       string
	Tasks         []task.Task
}

// CreatePersisted builds a fresh session in status running, iteration 0.
func CreatePersisted(p CreateParams) *PersistedSession {
	now := time.Now().UTC()
	snapshots := make([]TaskSnapshot, len(p.Tasks))
	for i, t := range p.Tasks {
		snapshots[i] = TaskSnapshot{
			ID:          t.ID,
			Title:       t.Title,
			Description: t.Description,
			Status:      t.Status,
			Priority:    t.Priority,
		}
	}
	return &PersistedSession{
		Version:          SchemaVersion,
		SessionID:        uuid.NewString(),
		Status:           StatusRunning,
		StartedAt:        now,
		UpdatedAt:        now,
		CurrentIteration: 0,
		MaxIterations:    p.MaxIterations,
		TasksCompleted:   0,
		IsPaused:         false,
		AgentPlugin:      p.AgentPlugin,
		Model:            p.Model,
		TrackerState: TrackerState{
			Plugin:     p.TrackerPlugin,
			EpicID:     p.EpicID,
			PRDPath:    p.PRDPath,
			TotalTasks: len(snapshots),
			Tasks:      snapshots,
		},
		Iterations:     []PersistedIterationResult{},
		SkippedTaskIDs: []string{},
		Cwd:            p.Cwd,
	}
}

// clone performs a shallow value copy plus deep-copies the slices the
// mutators below append to, so callers that hold the previous snapshot are
// never surprised by in-place mutation.
func clone(s *PersistedSession) *PersistedSession {
	cp := *s
	cp.Iterations = append([]PersistedIterationResult{}, s.Iterations...)
	cp.SkippedTaskIDs = append([]string{}, s.SkippedTaskIDs...)
	cp.TrackerState.Tasks = append([]TaskSnapshot{}, s.TrackerState.Tasks...)
	return &cp
}

// UpdateAfterIteration appends a completed iteration's result, refreshes the
// tracker task snapshot, and bumps tasksCompleted when the task finished.
func UpdateAfterIteration(s *PersistedSession, result task.IterationResult) *PersistedSession {
	cp := clone(s)
	cp.CurrentIteration = result.Iteration
	cp.Iterations = append(cp.Iterations, PersistedIterationResult{
		Iteration:     result.Iteration,
		Status:        string(result.Status),
		TaskID:        result.Task.ID,
		TaskCompleted: result.TaskCompleted,
		DurationMs:    result.DurationMs,
		Error:         result.Error,
		StartedAt:     result.StartedAt,
		EndedAt:       result.EndedAt,
	})
	for i, ts := range cp.TrackerState.Tasks {
		if ts.ID == result.Task.ID {
			cp.TrackerState.Tasks[i].Status = result.Task.Status
			break
		}
	}
	if result.TaskCompleted {
		cp.TasksCompleted++
	}
	cp.UpdatedAt = time.Now().UTC()
	return cp
}

// Pause transitions the session to paused, recording pausedAt.
func Pause(s *PersistedSession) *PersistedSession {
	cp := clone(s)
	now := time.Now().UTC()
	cp.Status = StatusPaused
	cp.IsPaused = true
	cp.PausedAt = &now
	cp.UpdatedAt = now
	return cp
}

// Resume transitions the session back to running, clearing pausedAt.
func Resume(s *PersistedSession) *PersistedSession {
	cp := clone(s)
	cp.Status = StatusRunning
	cp.IsPaused = false
	cp.PausedAt = nil
	cp.UpdatedAt = time.Now().UTC()
	return cp
}

// Complete marks the session as having finished its loop successfully
// (e.g. no more pending tasks).
func Complete(s *PersistedSession) *PersistedSession {
	cp := clone(s)
	cp.Status = StatusCompleted
	cp.IsPaused = false
	cp.UpdatedAt = time.Now().UTC()
	return cp
}

// Fail marks the session as failed, e.g. under error policy "abort".
func Fail(s *PersistedSession) *PersistedSession {
	cp := clone(s)
	cp.Status = StatusFailed
	cp.IsPaused = false
	cp.UpdatedAt = time.Now().UTC()
	return cp
}

// MarkInterrupted records that the engine stopped mid-loop without reaching
// a terminal outcome (process killed, stop() called).
func MarkInterrupted(s *PersistedSession) *PersistedSession {
	cp := clone(s)
	cp.Status = StatusInterrupted
	cp.IsPaused = false
	cp.UpdatedAt = time.Now().UTC()
	return cp
}

// AddSkippedTask appends id to skippedTaskIds, deduplicating.
func AddSkippedTask(s *PersistedSession, id string) *PersistedSession {
	for _, existing := range s.SkippedTaskIDs {
		if existing == id {
			return s
		}
	}
	cp := clone(s)
	cp.SkippedTaskIDs = append(cp.SkippedTaskIDs, id)
	cp.UpdatedAt = time.Now().UTC()
	return cp
}
