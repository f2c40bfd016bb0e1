package tracker

import (
	"testing"

	"github.com/ralph-tui/ralph-tui/internal/task"
)

func TestMemory_TasksSortedByID(t *testing.T) {
	m := NewMemory([]task.Task{
		{ID: "b", Status: task.StatusPending},
		{ID: "a", Status: task.StatusPending},
	})
	tasks, err := m.Tasks()
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "a" || tasks[1].ID != "b" {
		t.Fatalf("expected sorted [a, b], got %+v", tasks)
	}
}

func TestMemory_UpdateStatus(t *testing.T) {
	m := NewMemory([]task.Task{{ID: "a", Status: task.StatusPending}})
	if err := m.UpdateStatus("a", task.StatusInProgress); err != nil {
		t.Fatalf("updateStatus: %v", err)
	}
	tasks, _ := m.Tasks()
	if tasks[0].Status != task.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", tasks[0].Status)
	}

	if err := m.UpdateStatus("missing", task.StatusFailed); err == nil {
		t.Fatal("expected error for unknown task id")
	}
}
