package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/fsutil"
)

const sessionFileName = ".ralph-tui-session.json"

// Store persists a PersistedSession to a single file per working directory.
// Unlike the registry, there is at most one writer per cwd in normal
// operation, but saves are still serialized defensively per path.
type Store struct {
	log     *slog.Logger
	mu      sync.Mutex
	pathMus map[string]*sync.Mutex
}

// New constructs a Store. logger may be nil, in which case slog.Default()
// is used.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{log: logger, pathMus: map[string]*sync.Mutex{}}
}

func sessionPath(cwd string) string {
	return filepath.Join(cwd, sessionFileName)
}

func (s *Store) lockFor(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.pathMus[path]
	if !ok {
		m = &sync.Mutex{}
		s.pathMus[path] = m
	}
	return m
}

// Has reports whether a session file exists for cwd.
func (s *Store) Has(cwd string) bool {
	_, err := os.Stat(sessionPath(cwd))
	return err == nil
}

// Load reads the session file for cwd. It returns (nil, nil) if absent.
func (s *Store) Load(cwd string) (*PersistedSession, error) {
	path := sessionPath(cwd)
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}

	var sess PersistedSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session: parse %s: %w", path, err)
	}
	if sess.Version != SchemaVersion {
		s.log.Warn("session file has unexpected schema version",
			"path", path, "version", sess.Version, "expected", SchemaVersion)
	}
	return &sess, nil
}

// Save writes sess to its cwd's session file atomically, refreshing
// updatedAt. The caller's copy is not mutated; a fresh pointer is returned.
func (s *Store) Save(sess *PersistedSession) (*PersistedSession, error) {
	if sess.Cwd == "" {
		return nil, fmt.Errorf("session: cwd is required to save")
	}
	cp := *sess
	cp.UpdatedAt = time.Now().UTC()
	if cp.Version == 0 {
		cp.Version = SchemaVersion
	}

	path := sessionPath(cp.Cwd)
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("session: marshal: %w", err)
	}
	data = append(data, '\n')
	if err := fsutil.WriteAtomic(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("session: save %s: %w", path, err)
	}
	return &cp, nil
}

// Delete removes the session file for cwd. Deleting an absent file is not
// an error.
func (s *Store) Delete(cwd string) error {
	path := sessionPath(cwd)
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: delete %s: %w", path, err)
	}
	return nil
}
