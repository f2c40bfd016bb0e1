package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/fsutil"
	"github.com/ralph-tui/ralph-tui/internal/session"
)

// Filter selects which entries List returns.
type Filter int

const (
	FilterAll Filter = iota
	FilterResumable
)

// StaleChecker reports whether cwd is no longer occupied by a live session
// (e.g. its per-cwd session file is gone, or its status is terminal).
type StaleChecker func(cwd string) bool

// Registry is the global sessions.json index, guarded by a cross-process
// file lock so concurrent ralphd/ralphctl processes never corrupt it.
type Registry struct {
	path string
	log  *slog.Logger
}

// DefaultPath returns "<config_home>/ralph-tui/sessions.json".
func DefaultPath() (string, error) {
	home, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("registry: resolve config dir: %w", err)
	}
	return filepath.Join(home, "ralph-tui", "sessions.json"), nil
}

// New constructs a Registry backed by path. logger may be nil.
func New(path string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{path: path, log: logger}
}

func emptyFile() file {
	return file{Version: SchemaVersion, Sessions: map[string]Entry{}}
}

// lockPath is never replaced by fsutil.WriteAtomic's rename, unlike r.path
// itself, so flocking it stays valid for the full duration of a write.
func (r *Registry) lockPath() string {
	return r.path + ".lock"
}

// withLock opens lockPath, blocks for exclusive access, loads the current
// file, lets fn mutate it, then writes the result back atomically before
// releasing the lock. This is the single choke point every mutating
// operation goes through.
func (r *Registry) withLock(fn func(f *file) error) error {
	lock, err := fsutil.Lock(r.lockPath())
	if err != nil {
		return err
	}
	defer lock.Unlock()

	f, err := r.readLocked()
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		return err
	}
	return r.writeLocked(f)
}

func (r *Registry) readLocked() (*file, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			f := emptyFile()
			return &f, nil
		}
		return nil, fmt.Errorf("registry: read %s: %w", r.path, err)
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", r.path, err)
	}
	if f.Sessions == nil {
		f.Sessions = map[string]Entry{}
	}
	if f.Version != SchemaVersion {
		r.log.Warn("registry file has unexpected schema version",
			"path", r.path, "version", f.Version, "expected", SchemaVersion)
	}
	return &f, nil
}

func (r *Registry) writeLocked(f *file) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}
	data = append(data, '\n')
	if err := fsutil.WriteAtomic(r.path, data, 0o644); err != nil {
		return fmt.Errorf("registry: write %s: %w", r.path, err)
	}
	return nil
}

// Register inserts or replaces the entry keyed by its SessionID.
func (r *Registry) Register(e Entry) error {
	return r.withLock(func(f *file) error {
		e.UpdatedAt = time.Now().UTC()
		if e.StartedAt.IsZero() {
			e.StartedAt = e.UpdatedAt
		}
		f.Sessions[e.SessionID] = e
		return nil
	})
}

// UpdateStatus updates an entry's status in place. Absent ids are a
// silent no-op.
func (r *Registry) UpdateStatus(id string, status session.Status) error {
	return r.withLock(func(f *file) error {
		e, ok := f.Sessions[id]
		if !ok {
			return nil
		}
		e.Status = status
		e.UpdatedAt = time.Now().UTC()
		f.Sessions[id] = e
		return nil
	})
}

// Unregister removes the entry with the given id, if present.
func (r *Registry) Unregister(id string) error {
	return r.withLock(func(f *file) error {
		delete(f.Sessions, id)
		return nil
	})
}

// GetByID returns the entry with id, or nil if absent.
func (r *Registry) GetByID(id string) (*Entry, error) {
	lock, err := fsutil.Lock(r.lockPath())
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()
	f, err := r.readLocked()
	if err != nil {
		return nil, err
	}
	e, ok := f.Sessions[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// GetByCwd returns the newest resumable entry for cwd, or nil if none.
func (r *Registry) GetByCwd(cwd string) (*Entry, error) {
	lock, err := fsutil.Lock(r.lockPath())
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()
	f, err := r.readLocked()
	if err != nil {
		return nil, err
	}
	var best *Entry
	for _, e := range f.Sessions {
		if e.Cwd != cwd || !e.Status.Resumable() {
			continue
		}
		if best == nil || e.UpdatedAt.After(best.UpdatedAt) {
			cp := e
			best = &cp
		}
	}
	return best, nil
}

// List returns entries matching filter, sorted newest-updated first.
func (r *Registry) List(filter Filter) ([]Entry, error) {
	lock, err := fsutil.Lock(r.lockPath())
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()
	f, err := r.readLocked()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(f.Sessions))
	for _, e := range f.Sessions {
		if filter == FilterResumable && !e.Status.Resumable() {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// FindByPrefix returns entries whose SessionID starts with prefix.
func (r *Registry) FindByPrefix(prefix string) ([]Entry, error) {
	all, err := r.List(FilterAll)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0)
	for _, e := range all {
		if strings.HasPrefix(e.SessionID, prefix) {
			out = append(out, e)
		}
	}
	return out, nil
}

// CleanupStale removes entries whose cwd the checker declares unoccupied.
// It returns the number of entries removed.
func (r *Registry) CleanupStale(checker StaleChecker) (int, error) {
	removed := 0
	err := r.withLock(func(f *file) error {
		for id, e := range f.Sessions {
			if checker(e.Cwd) {
				delete(f.Sessions, id)
				removed++
			}
		}
		return nil
	})
	return removed, err
}
