package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/agentproc"
	"github.com/ralph-tui/ralph-tui/internal/session"
	"github.com/ralph-tui/ralph-tui/internal/task"
	"github.com/ralph-tui/ralph-tui/internal/tracker"
)

// fakeHandle is a pre-resolved agentproc.Handle used by fakeAgent.
type fakeHandle struct {
	done chan agentproc.Result
}

func newFakeHandle(result agentproc.Result) *fakeHandle {
	h := &fakeHandle{done: make(chan agentproc.Result, 1)}
	h.done <- result
	close(h.done)
	return h
}

func (h *fakeHandle) Stdout() <-chan string {
	ch := make(chan string)
	close(ch)
	return ch
}
func (h *fakeHandle) Stderr() <-chan string {
	ch := make(chan string)
	close(ch)
	return ch
}
func (h *fakeHandle) JSONL() <-chan json.RawMessage {
	ch := make(chan json.RawMessage)
	close(ch)
	return ch
}
func (h *fakeHandle) Done() <-chan agentproc.Result { return h.done }
func (h *fakeHandle) Interrupt() error               { return nil }

// fakeAgent exits with exitCode and, when that is 0, marks the first task
// found in_progress as completed, simulating an agent that finishes its
// work and reports back through the tracker.
type fakeAgent struct {
	trk      tracker.Adapter
	exitCode int
}

func (a *fakeAgent) Plugin() string { return "fake" }

func (a *fakeAgent) Execute(ctx context.Context, cwd, prompt string) (agentproc.Handle, error) {
	tasks, _ := a.trk.Tasks()
	for _, t := range tasks {
		if t.Status == task.StatusInProgress {
			if a.exitCode == 0 {
				_ = a.trk.UpdateStatus(t.ID, task.StatusCompleted)
			}
			break
		}
	}
	return newFakeHandle(agentproc.Result{ExitCode: a.exitCode}), nil
}

// drainEvents collects events until the subscription is quiet for
// quietFor or the overall timeout elapses, whichever comes first.
func drainEvents(sub <-chan Event, quietFor, timeout time.Duration) []Event {
	var out []Event
	overall := time.After(timeout)
	for {
		select {
		case ev := <-sub:
			out = append(out, ev)
		case <-time.After(quietFor):
			return out
		case <-overall:
			return out
		}
	}
}

func waitForStatus(t *testing.T, e *Engine, want Status, timeout time.Duration) State {
	t.Helper()
	deadline := time.After(timeout)
	for {
		st := e.GetState()
		if st.Status == want {
			return st
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for status %s, last was %s", want, st.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEngine_HappyPath_TwoIterations(t *testing.T) {
	trk := tracker.NewMemory([]task.Task{
		{ID: "a", Title: "a", Status: task.StatusPending, Priority: 2},
		{ID: "b", Title: "b", Status: task.StatusPending, Priority: 1},
	})
	agent := &fakeAgent{trk: trk}
	store := session.New(nil)
	cwd := t.TempDir()

	e, err := New(Config{}, agent, trk, store, cwd, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	final := waitForStatus(t, e, StatusIdle, 2*time.Second)
	if final.TasksCompleted != 2 {
		t.Fatalf("expected 2 tasks completed, got %d", final.TasksCompleted)
	}
	if len(final.Iterations) != 2 {
		t.Fatalf("expected 2 iterations, got %d", len(final.Iterations))
	}
	if final.Iterations[0].Task.ID != "a" || final.Iterations[1].Task.ID != "b" {
		t.Fatalf("expected order [a, b], got [%s, %s]", final.Iterations[0].Task.ID, final.Iterations[1].Task.ID)
	}
}

func TestEngine_PauseResume_EventOrdering(t *testing.T) {
	trk := tracker.NewMemory([]task.Task{
		{ID: "a", Title: "a", Status: task.StatusPending, Priority: 1},
		{ID: "b", Title: "b", Status: task.StatusPending, Priority: 0},
	})
	agent := &fakeAgent{trk: trk}
	store := session.New(nil)
	cwd := t.TempDir()

	e, err := New(Config{IterationDelay: 200 * time.Millisecond}, agent, trk, store, cwd, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sub, cancel := e.Subscribe()
	defer cancel()

	if err := e.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}

	waitForStatus(t, e, StatusPaused, 2*time.Second)

	events := drainEvents(sub, 100*time.Millisecond, 2*time.Second)
	idxCompleted, idxPaused := -1, -1
	for i, ev := range events {
		if ev.Type == EventIterationCompleted && idxCompleted == -1 {
			idxCompleted = i
		}
		if ev.Type == EventEnginePaused && idxPaused == -1 {
			idxPaused = i
		}
	}
	if idxCompleted == -1 || idxPaused == -1 || idxPaused < idxCompleted {
		t.Fatalf("expected engine:paused after iteration:completed, got %+v", events)
	}

	st := e.GetState()
	if len(st.Iterations) != 1 {
		t.Fatalf("expected exactly 1 iteration before resume, got %d", len(st.Iterations))
	}

	if err := e.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitForStatus(t, e, StatusIdle, 2*time.Second)
}

func TestEngine_ErrorSkip_SelectsNextTask(t *testing.T) {
	trk := tracker.NewMemory([]task.Task{
		{ID: "a", Title: "a", Status: task.StatusPending, Priority: 1},
		{ID: "b", Title: "b", Status: task.StatusPending, Priority: 0},
	})
	agent := &fakeAgent{trk: trk, exitCode: 1}
	store := session.New(nil)
	cwd := t.TempDir()

	e, err := New(Config{ErrorStrategy: StrategySkip}, agent, trk, store, cwd, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	final := waitForStatus(t, e, StatusIdle, 2*time.Second)
	if len(final.Iterations) != 2 {
		t.Fatalf("expected 2 iterations, got %d", len(final.Iterations))
	}
	if final.Iterations[0].Status != task.IterationFailed {
		t.Fatalf("expected first iteration failed, got %s", final.Iterations[0].Status)
	}
	if final.Iterations[1].Task.ID != "b" {
		t.Fatalf("expected second iteration to select b, got %s", final.Iterations[1].Task.ID)
	}
}

func TestEngine_AddRemoveIterations(t *testing.T) {
	trk := tracker.NewMemory([]task.Task{{ID: "a", Title: "a", Status: task.StatusPending}})
	agent := &fakeAgent{trk: trk}
	store := session.New(nil)
	e, err := New(Config{MaxIterations: 1}, agent, trk, store, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := e.AddIterations(2); err != nil {
		t.Fatalf("addIterations: %v", err)
	}
	if got := e.GetState().MaxIterations; got != 3 {
		t.Fatalf("expected maxIterations 3, got %d", got)
	}
	if err := e.RemoveIterations(10); err != ErrWouldEndLoop {
		t.Fatalf("expected ErrWouldEndLoop, got %v", err)
	}
	if err := e.AddIterations(0); err != ErrBadArg {
		t.Fatalf("expected ErrBadArg, got %v", err)
	}
}

func TestEngine_ContinueForbiddenBeforeStart(t *testing.T) {
	trk := tracker.NewMemory(nil)
	agent := &fakeAgent{trk: trk}
	e, err := New(Config{}, agent, trk, session.New(nil), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := e.Continue(); err != ErrNotTerminated {
		t.Fatalf("expected ErrNotTerminated, got %v", err)
	}
}
