// Package engine implements the Execution Engine (C5): the iteration state
// machine that drives an Agent Adapter against a Tracker Adapter, with
// pause/resume/interrupt control and a configurable error-handling policy.
package engine

import (
	"time"

	"github.com/ralph-tui/ralph-tui/internal/task"
)

// Status is the engine-level state, distinct from session.Status.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusStopping Status = "stopping"
)

// State is an immutable snapshot of the engine's mutable fields, safe to
// hand to a caller outside the loop's lock.
type State struct {
	Status           Status
	CurrentIteration uint
	CurrentTask      *task.Task
	CurrentOutput    string
	CurrentStderr    string
	Iterations       []task.IterationResult
	TasksCompleted   uint
	TotalTasks       uint
	MaxIterations    uint
	StartedAt        *time.Time
	ActiveAgent      string
}

// clone deep-copies the parts of State a caller could otherwise mutate.
func (s State) clone() State {
	cp := s
	if s.CurrentTask != nil {
		t := *s.CurrentTask
		cp.CurrentTask = &t
	}
	cp.Iterations = append([]task.IterationResult{}, s.Iterations...)
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	return cp
}
