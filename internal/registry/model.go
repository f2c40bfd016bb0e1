// Package registry implements the global session index (C4): a single
// file, shared across all working directories, that lets a CLI or remote
// client discover running/resumable sessions without scanning the
// filesystem.
package registry

import (
	"time"

	"github.com/ralph-tui/ralph-tui/internal/session"
)

// SchemaVersion is the only version this package writes.
const SchemaVersion = 1

// Entry is one record in the registry, keyed by SessionID.
type Entry struct {
	SessionID     string         `json:"sessionId"`
	Cwd           string         `json:"cwd"`
	Status        session.Status `json:"status"`
	StartedAt     time.Time      `json:"startedAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	AgentPlugin   string         `json:"agentPlugin"`
	TrackerPlugin string         `json:"trackerPlugin"`
	EpicID        string         `json:"epicId,omitempty"`
	PRDPath       string         `json:"prdPath,omitempty"`
	Sandbox       bool           `json:"sandbox,omitempty"`
}

// file is the on-disk shape of sessions.json.
type file struct {
	Version  int              `json:"version"`
	Sessions map[string]Entry `json:"sessions"`
}
