package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ralph-tui/ralph-tui/internal/fsutil"
)

// Token lifetime constants (spec §6).
const (
	ServerTokenDays        = 90
	ConnectionTokenHours   = 24
	RefreshThresholdHours  = 1
)

// ServerToken is the long-lived credential generated at first launch and
// distributed to operators out of band.
type ServerToken struct {
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ConnectionToken is the short-lived per-connection credential issued on
// successful auth.
type ConnectionToken struct {
	Token     string
	ExpiresAt time.Time
}

func newServerToken() ServerToken {
	now := time.Now().UTC()
	return ServerToken{
		Token:     uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: now.AddDate(0, 0, ServerTokenDays),
	}
}

func newConnectionToken() ConnectionToken {
	return ConnectionToken{
		Token:     uuid.NewString(),
		ExpiresAt: time.Now().UTC().Add(ConnectionTokenHours * time.Hour),
	}
}

// tokenStore persists the server token to disk and validates incoming
// tokens (server or connection) in constant time.
type tokenStore struct {
	path string

	mu     sync.RWMutex
	server ServerToken
	conns  map[string]ConnectionToken
}

func newTokenStore(path string) (*tokenStore, error) {
	ts := &tokenStore{path: path, conns: map[string]ConnectionToken{}}
	if err := ts.loadOrCreate(); err != nil {
		return nil, err
	}
	return ts, nil
}

func (ts *tokenStore) loadOrCreate() error {
	data, err := os.ReadFile(ts.path)
	if err == nil {
		var st ServerToken
		if jsonErr := json.Unmarshal(data, &st); jsonErr == nil && st.Token != "" {
			ts.server = st
			return nil
		}
	}
	return ts.rotate()
}

// rotate generates a fresh server token and persists it, as `--rotate-token`
// does.
func (ts *tokenStore) rotate() error {
	ts.mu.Lock()
	ts.server = newServerToken()
	st := ts.server
	ts.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("server: marshal token: %w", err)
	}
	return fsutil.WriteAtomic(ts.path, append(data, '\n'), 0o600)
}

func (ts *tokenStore) serverToken() ServerToken {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.server
}

// issueConnectionToken mints and records a new connection token.
func (ts *tokenStore) issueConnectionToken() ConnectionToken {
	ct := newConnectionToken()
	ts.mu.Lock()
	ts.conns[ct.Token] = ct
	ts.mu.Unlock()
	return ct
}

// refreshConnectionToken replaces old with a freshly issued token,
// atomically from the caller's point of view.
func (ts *tokenStore) refreshConnectionToken(old string) ConnectionToken {
	ct := newConnectionToken()
	ts.mu.Lock()
	delete(ts.conns, old)
	ts.conns[ct.Token] = ct
	ts.mu.Unlock()
	return ct
}

// validate reports whether token is either the current server token or a
// known, non-expired connection token. Comparisons are constant-time.
func (ts *tokenStore) validate(token string) bool {
	if token == "" {
		return false
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	if constantTimeEqual(token, ts.server.Token) {
		return true
	}
	if ct, ok := ts.conns[token]; ok {
		return time.Now().UTC().Before(ct.ExpiresAt)
	}
	return false
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		// Return early, as subtle.ConstantTimeCompare itself does on a
		// length mismatch: only the length leaks, and tokens here are
		// fixed-format UUIDs in practice, so this path is rarely hit.
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
