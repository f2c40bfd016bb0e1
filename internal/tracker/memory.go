package tracker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ralph-tui/ralph-tui/internal/task"
)

// Memory is an in-process Adapter backed by a slice held under a mutex. It
// is not meant for production use; it exercises the Engine in tests and is
// the tracker `cmd/ralphd` runs with, so no real tracker is required.
type Memory struct {
	mu    sync.Mutex
	tasks map[string]task.Task
}

// NewMemory constructs a Memory tracker seeded with the given tasks.
func NewMemory(tasks []task.Task) *Memory {
	m := &Memory{tasks: make(map[string]task.Task, len(tasks))}
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	return m
}

// Plugin implements Adapter.
func (m *Memory) Plugin() string { return "memory" }

// Tasks implements Adapter, returning tasks sorted by id for determinism.
func (m *Memory) Tasks() ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateStatus implements Adapter.
func (m *Memory) UpdateStatus(id string, status task.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("tracker: unknown task %q", id)
	}
	t.Status = status
	m.tasks[id] = t
	return nil
}
