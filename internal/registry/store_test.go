package registry

import (
	"path/filepath"
	"testing"

	"github.com/ralph-tui/ralph-tui/internal/session"
)

func TestRegistry_RegisterGetUnregister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	r := New(path, nil)

	e := Entry{SessionID: "sess-1", Cwd: "/work/a", Status: session.StatusRunning, AgentPlugin: "claude-cli"}
	if err := r.Register(e); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := r.GetByID("sess-1")
	if err != nil {
		t.Fatalf("getByID: %v", err)
	}
	if got == nil || got.Cwd != "/work/a" {
		t.Fatal("expected registered entry")
	}

	if err := r.Unregister("sess-1"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	got, err = r.GetByID("sess-1")
	if err != nil {
		t.Fatalf("getByID after unregister: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil after unregister")
	}
}

func TestRegistry_GetByCwdReturnsNewestResumable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	r := New(path, nil)

	if err := r.Register(Entry{SessionID: "old", Cwd: "/work/a", Status: session.StatusCompleted}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Entry{SessionID: "new", Cwd: "/work/a", Status: session.StatusPaused}); err != nil {
		t.Fatal(err)
	}

	e, err := r.GetByCwd("/work/a")
	if err != nil {
		t.Fatalf("getByCwd: %v", err)
	}
	if e == nil || e.SessionID != "new" {
		t.Fatalf("expected resumable 'new' entry, got %+v", e)
	}

	none, err := r.GetByCwd("/work/b")
	if err != nil {
		t.Fatalf("getByCwd unknown: %v", err)
	}
	if none != nil {
		t.Fatal("expected nil for cwd with no entries")
	}
}

func TestRegistry_FindByPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	r := New(path, nil)
	for _, id := range []string{"abc123", "abc456", "xyz789"} {
		if err := r.Register(Entry{SessionID: id, Cwd: "/w", Status: session.StatusRunning}); err != nil {
			t.Fatal(err)
		}
	}
	matches, err := r.FindByPrefix("abc")
	if err != nil {
		t.Fatalf("findByPrefix: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
}

func TestRegistry_CleanupStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	r := New(path, nil)
	if err := r.Register(Entry{SessionID: "keep", Cwd: "/cwd1", Status: session.StatusRunning}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Entry{SessionID: "drop", Cwd: "/cwd2", Status: session.StatusRunning}); err != nil {
		t.Fatal(err)
	}

	removed, err := r.CleanupStale(func(cwd string) bool { return cwd == "/cwd2" })
	if err != nil {
		t.Fatalf("cleanupStale: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	remaining, err := r.List(FilterAll)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].SessionID != "keep" {
		t.Fatalf("expected only 'keep' to remain, got %+v", remaining)
	}
}

func TestRegistry_ConcurrentRegisterAllReflected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	r := New(path, nil)

	const n = 20
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_ = r.Register(Entry{SessionID: string(rune('a' + i)), Cwd: "/w", Status: session.StatusRunning})
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	all, err := r.List(FilterAll)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != n {
		t.Fatalf("expected %d entries reflected, got %d", n, len(all))
	}
}
