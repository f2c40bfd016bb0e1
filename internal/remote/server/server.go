// Package server implements the Remote Server (C7): a persistent,
// token-authenticated, full-duplex framed-JSON control plane in front of
// one Engine, plus the Config Push (C9) handlers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ralph-tui/ralph-tui/internal/engine"
)

const DefaultPort = 7890

// upgradeHeader is the handshake marker a client sends to request the
// raw framed-JSON stream instead of a normal HTTP response. There is no
// real WebSocket frame format in play here: once hijacked, both sides
// speak protocol.Conn directly.
const upgradeHeader = "Ralph-Remote-Upgrade"

type Server struct {
	engine *engine.Engine
	tokens *tokenStore
	log    *slog.Logger
	cwd    string

	addr     string
	listener net.Listener
	srv      *http.Server
	started  time.Time

	mu    sync.Mutex
	conns map[string]*connection
}

// Config configures a Server.
type Config struct {
	Addr       string // host:port, defaults to ":7890"
	TokenPath  string // where the server token is persisted
	Cwd        string // project directory, for project-scope config push
	Logger     *slog.Logger
	RotateToken bool
}

func New(cfg Config, eng *engine.Engine) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = fmt.Sprintf(":%d", DefaultPort)
	}
	tokens, err := newTokenStore(cfg.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("server: init token store: %w", err)
	}
	if cfg.RotateToken {
		if err := tokens.rotate(); err != nil {
			return nil, fmt.Errorf("server: rotate token: %w", err)
		}
	}
	return &Server{
		engine: eng,
		tokens: tokens,
		log:    cfg.Logger,
		cwd:    cfg.Cwd,
		addr:   cfg.Addr,
		conns:  map[string]*connection{},
	}, nil
}

// ServerToken returns the current long-lived server token (the one
// persisted at Config.TokenPath).
func (s *Server) ServerToken() ServerToken {
	return s.tokens.serverToken()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	var h http.Handler = mux
	h = s.loggingMiddleware(h)
	h = s.recoverMiddleware(h)
	return h
}

// ListenAndServe binds addr and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.started = time.Now().UTC()
	s.srv = &http.Server{Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		_ = s.srv.Close()
		s.closeAllConns()
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(upgradeHeader) == "" {
		w.WriteHeader(http.StatusUpgradeRequired)
		return
	}
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijack not supported", http.StatusInternalServerError)
		return
	}
	raw, buf, err := hijacker.Hijack()
	if err != nil {
		s.log.Error("remote: hijack failed", "error", err)
		return
	}
	if buf != nil && buf.Reader.Buffered() > 0 {
		// Nothing buffered is expected for an upgrade request with no
		// trailing body; a hijacked connection with leftover buffered
		// bytes would desync framing, so refuse it outright.
		_ = raw.Close()
		return
	}
	// The ResponseWriter is unusable after Hijack; write the switching-
	// protocols response line directly to the raw connection so framed
	// JSON can start immediately after it.
	if _, err := fmt.Fprintf(raw, "HTTP/1.1 101 Switching Protocols\r\n%s: ok\r\n\r\n", upgradeHeader); err != nil {
		_ = raw.Close()
		return
	}

	id := uuid.NewString()
	conn := newConnection(id, raw, s)
	s.addConn(conn)
	conn.run()
}

func (s *Server) addConn(c *connection) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
}

func (s *Server) removeConn(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (s *Server) closeAllConns() {
	s.mu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) globalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "ralph-tui", "config.toml")
}

func (s *Server) projectConfigPath() string {
	return filepath.Join(s.cwd, ".ralph-tui", "config.toml")
}

func (s *Server) configPathForScope(scope string) (string, error) {
	switch scope {
	case "global":
		return s.globalConfigPath(), nil
	case "project":
		return s.projectConfigPath(), nil
	default:
		return "", fmt.Errorf("server: unknown config scope %q", scope)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("remote: http", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "dur", time.Since(start).String())
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("remote: panic", "err", rec)
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
