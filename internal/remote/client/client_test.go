package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/agentproc"
	"github.com/ralph-tui/ralph-tui/internal/engine"
	remoteserver "github.com/ralph-tui/ralph-tui/internal/remote/server"
	"github.com/ralph-tui/ralph-tui/internal/session"
	"github.com/ralph-tui/ralph-tui/internal/tracker"
)

type noopHandle struct{ done chan agentproc.Result }

func newNoopHandle() *noopHandle {
	h := &noopHandle{done: make(chan agentproc.Result, 1)}
	h.done <- agentproc.Result{ExitCode: 0}
	return h
}
func (h *noopHandle) Stdout() <-chan string                  { ch := make(chan string); close(ch); return ch }
func (h *noopHandle) Stderr() <-chan string                  { ch := make(chan string); close(ch); return ch }
func (h *noopHandle) JSONL() <-chan json.RawMessage           { ch := make(chan json.RawMessage); close(ch); return ch }
func (h *noopHandle) Done() <-chan agentproc.Result           { return h.done }
func (h *noopHandle) Interrupt() error                        { return nil }

type noopAgent struct{}

func (noopAgent) Plugin() string { return "noop" }
func (noopAgent) Execute(ctx context.Context, cwd, prompt string) (agentproc.Handle, error) {
	return newNoopHandle(), nil
}

func startTestServer(t *testing.T) (addr string, srv *remoteserver.Server) {
	t.Helper()
	dir := t.TempDir()
	trk := tracker.NewMemory(nil)
	store := session.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	eng, err := engine.New(engine.Config{}, noopAgent{}, trk, store, dir, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	srv, err = remoteserver.New(remoteserver.Config{
		Addr:      "127.0.0.1:0",
		TokenPath: filepath.Join(dir, "token.json"),
		Cwd:       dir,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, eng)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	httpSrv := &http.Server{Handler: srv.Handler()}
	go func() { _ = httpSrv.Serve(ln) }()
	t.Cleanup(func() { _ = httpSrv.Close() })
	return ln.Addr().String(), srv
}

func TestClient_ConnectAuthSucceeds(t *testing.T) {
	addr, srv := startTestServer(t)
	cl := New(Config{
		Addr:        addr,
		ServerToken: srv.ServerToken().Token,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cl.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if cl.State() != StateConnected {
		t.Fatalf("expected connected, got %s", cl.State())
	}
	cl.Disconnect()
	if cl.State() != StateDisconnected {
		t.Fatalf("expected disconnected after Disconnect, got %s", cl.State())
	}
}

func TestClient_ConnectWithBadTokenRejected(t *testing.T) {
	addr, _ := startTestServer(t)
	cl := New(Config{
		Addr:        addr,
		ServerToken: "wrong-token",
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := cl.Connect(ctx)
	if err == nil {
		t.Fatal("expected auth rejection error")
	}
}

func TestBackoffPolicy_DelayGrowsAndCaps(t *testing.T) {
	p := defaultBackoffPolicy()
	if p.delay(0) != p.InitialDelay {
		t.Fatalf("expected first delay to equal initial delay")
	}
	if p.delay(1) != 2*p.InitialDelay {
		t.Fatalf("expected second delay to double")
	}
	if got := p.delay(20); got != p.MaxDelay {
		t.Fatalf("expected capped delay, got %v", got)
	}
}

func TestBackoffPolicy_SilentThreshold(t *testing.T) {
	p := defaultBackoffPolicy()
	for i := 0; i < p.SilentRetryThreshold; i++ {
		if !p.silent(i) {
			t.Fatalf("expected attempt %d to be silent", i)
		}
	}
	if p.silent(p.SilentRetryThreshold) {
		t.Fatal("expected attempt past threshold to be non-silent")
	}
}
