package session

import (
	"testing"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/task"
)

func TestStore_SaveLoadDelete(t *testing.T) {
	cwd := t.TempDir()
	s := New(nil)

	if s.Has(cwd) {
		t.Fatal("expected no session before first save")
	}
	loaded, err := s.Load(cwd)
	if err != nil {
		t.Fatalf("load absent: %v", err)
	}
	if loaded != nil {
		t.Fatal("expected nil session when file absent")
	}

	sess := CreatePersisted(CreateParams{
		Cwd:           cwd,
		AgentPlugin:   "claude-cli",
		MaxIterations: 5,
		TrackerPlugin: "memory",
		Tasks: []task.Task{
			{ID: "a", Title: "first", Status: task.StatusPending, Priority: 2},
			{ID: "b", Title: "second", Status: task.StatusPending, Priority: 1},
		},
	})

	saved, err := s.Save(sess)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.UpdatedAt.Before(saved.StartedAt) {
		t.Fatal("updatedAt must be >= startedAt")
	}

	if !s.Has(cwd) {
		t.Fatal("expected session to exist after save")
	}

	loaded, err = s.Load(cwd)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || loaded.SessionID != sess.SessionID {
		t.Fatal("loaded session id mismatch")
	}
	if loaded.TrackerState.TotalTasks != 2 {
		t.Fatalf("expected 2 tasks, got %d", loaded.TrackerState.TotalTasks)
	}

	if err := s.Delete(cwd); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Has(cwd) {
		t.Fatal("expected session gone after delete")
	}
	// Deleting again must not error.
	if err := s.Delete(cwd); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
}

func TestMutators_UpdateAfterIteration(t *testing.T) {
	cwd := t.TempDir()
	sess := CreatePersisted(CreateParams{
		Cwd: cwd,
		Tasks: []task.Task{
			{ID: "a", Status: task.StatusPending},
		},
	})

	result := task.IterationResult{
		Iteration:     1,
		Status:        task.IterationCompleted,
		Task:          task.Task{ID: "a", Status: task.StatusCompleted},
		TaskCompleted: true,
		DurationMs:    120,
		StartedAt:     time.Now().UTC(),
		EndedAt:       time.Now().UTC(),
	}

	next := UpdateAfterIteration(sess, result)
	if next.CurrentIteration != 1 {
		t.Fatalf("expected currentIteration 1, got %d", next.CurrentIteration)
	}
	if next.TasksCompleted != 1 {
		t.Fatalf("expected tasksCompleted 1, got %d", next.TasksCompleted)
	}
	if len(next.Iterations) != 1 {
		t.Fatalf("expected 1 iteration recorded, got %d", len(next.Iterations))
	}
	if next.TrackerState.Tasks[0].Status != task.StatusCompleted {
		t.Fatal("expected task snapshot status to be refreshed")
	}
	// Original must be untouched (pure mutator).
	if len(sess.Iterations) != 0 {
		t.Fatal("expected original session to be unmodified")
	}
}

func TestMutators_PauseResume(t *testing.T) {
	sess := CreatePersisted(CreateParams{Cwd: t.TempDir()})
	paused := Pause(sess)
	if paused.Status != StatusPaused || !paused.IsPaused || paused.PausedAt == nil {
		t.Fatal("expected paused session with pausedAt set")
	}
	resumed := Resume(paused)
	if resumed.Status != StatusRunning || resumed.IsPaused || resumed.PausedAt != nil {
		t.Fatal("expected resumed session to clear pausedAt")
	}
}

func TestMutators_AddSkippedTaskDedups(t *testing.T) {
	sess := CreatePersisted(CreateParams{Cwd: t.TempDir()})
	once := AddSkippedTask(sess, "a")
	twice := AddSkippedTask(once, "a")
	if len(twice.SkippedTaskIDs) != 1 {
		t.Fatalf("expected dedup, got %v", twice.SkippedTaskIDs)
	}
}

func TestStatus_Resumable(t *testing.T) {
	cases := map[Status]bool{
		StatusRunning:     true,
		StatusPaused:      true,
		StatusInterrupted: true,
		StatusCompleted:   false,
		StatusFailed:      false,
	}
	for status, want := range cases {
		if got := status.Resumable(); got != want {
			t.Errorf("Status(%s).Resumable() = %v, want %v", status, got, want)
		}
	}
}
