package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/agentproc"
	"github.com/ralph-tui/ralph-tui/internal/engine"
	"github.com/ralph-tui/ralph-tui/internal/remote/protocol"
	"github.com/ralph-tui/ralph-tui/internal/session"
	"github.com/ralph-tui/ralph-tui/internal/task"
	"github.com/ralph-tui/ralph-tui/internal/tracker"
)

// fakeHandle/fakeAgent mirror the engine package's own test doubles: an
// agent that completes its task immediately with exit code 0.
type fakeHandle struct {
	done chan agentproc.Result
}

func newFakeHandle() *fakeHandle {
	h := &fakeHandle{done: make(chan agentproc.Result, 1)}
	h.done <- agentproc.Result{ExitCode: 0}
	return h
}

func (h *fakeHandle) Stdout() <-chan string        { ch := make(chan string); close(ch); return ch }
func (h *fakeHandle) Stderr() <-chan string        { ch := make(chan string); close(ch); return ch }
func (h *fakeHandle) JSONL() <-chan json.RawMessage { ch := make(chan json.RawMessage); close(ch); return ch }
func (h *fakeHandle) Done() <-chan agentproc.Result { return h.done }
func (h *fakeHandle) Interrupt() error              { return nil }

type fakeAgent struct{ trk tracker.Adapter }

func (a fakeAgent) Plugin() string { return "fake" }
func (a fakeAgent) Execute(ctx context.Context, cwd, prompt string) (agentproc.Handle, error) {
	tasks, _ := a.trk.Tasks()
	for _, t := range tasks {
		if t.Status == task.StatusInProgress {
			_ = a.trk.UpdateStatus(t.ID, task.StatusCompleted)
			break
		}
	}
	return newFakeHandle(), nil
}

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	dir := t.TempDir()
	trk := tracker.NewMemory([]task.Task{{ID: "a", Title: "A", Status: task.StatusPending, Priority: 1}})
	store := session.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	eng, err := engine.New(engine.Config{MaxIterations: 1}, fakeAgent{trk: trk}, trk, store, dir, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	srv, err := New(Config{
		Addr:      "127.0.0.1:0",
		TokenPath: filepath.Join(dir, "token.json"),
		Cwd:       dir,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, eng)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return srv, eng
}

func TestServer_AuthHandshake_InvalidTokenRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	httpSrv := &http.Server{Handler: srv.Handler()}
	go func() { _ = httpSrv.Serve(ln) }()
	defer httpSrv.Close()

	raw, conn := dialAndUpgrade(t, ln.Addr().String())
	defer raw.Close()

	if err := conn.WriteFrame(protocol.Auth{
		Envelope:  protocol.NewEnvelope(protocol.TypeAuth),
		Token:     "not-the-real-token",
		TokenType: "server",
	}); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	env, rawResp, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("read auth_response: %v", err)
	}
	if env.Type != protocol.TypeAuthResponse {
		t.Fatalf("expected auth_response, got %s", env.Type)
	}
	var resp protocol.AuthResponse
	if err := unmarshalRaw(rawResp, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Fatal("expected auth failure for invalid token")
	}
}

func TestServer_AuthHandshake_ValidTokenAndGetState(t *testing.T) {
	srv, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	httpSrv := &http.Server{Handler: srv.Handler()}
	go func() { _ = httpSrv.Serve(ln) }()
	defer httpSrv.Close()

	raw, conn := dialAndUpgrade(t, ln.Addr().String())
	defer raw.Close()

	token := srv.ServerToken().Token
	if err := conn.WriteFrame(protocol.Auth{
		Envelope:  protocol.NewEnvelope(protocol.TypeAuth),
		Token:     token,
		TokenType: "server",
	}); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	_, rawResp, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("read auth_response: %v", err)
	}
	var resp protocol.AuthResponse
	if err := unmarshalRaw(rawResp, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatalf("expected auth success, got error: %s", resp.Error)
	}

	getState := protocol.GetState{Envelope: protocol.NewEnvelope(protocol.TypeGetState)}
	if err := conn.WriteFrame(getState); err != nil {
		t.Fatalf("write get_state: %v", err)
	}
	env, rawState, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("read state_response: %v", err)
	}
	if env.Type != protocol.TypeStateResponse {
		t.Fatalf("expected state_response, got %s", env.Type)
	}
	var stateResp protocol.StateResponse
	if err := unmarshalRaw(rawState, &stateResp); err != nil {
		t.Fatal(err)
	}
	if stateResp.State.Status != "idle" {
		t.Fatalf("expected idle status before start, got %s", stateResp.State.Status)
	}
}

func dialAndUpgrade(t *testing.T, addr string) (net.Conn, *protocol.Conn) {
	t.Helper()
	raw, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	req := fmt.Sprintf("GET / HTTP/1.1\r\nHost: %s\r\n%s: 1\r\n\r\n", addr, upgradeHeader)
	if _, err := raw.Write([]byte(req)); err != nil {
		t.Fatalf("write upgrade request: %v", err)
	}
	// Consume the HTTP/1.1 101-ish response line and headers up to the
	// blank line; after that the stream is raw framed JSON.
	buf := make([]byte, 0, 256)
	tmp := make([]byte, 1)
	for {
		n, err := raw.Read(tmp)
		if err != nil || n == 0 {
			t.Fatalf("read upgrade response: %v", err)
		}
		buf = append(buf, tmp[0])
		if len(buf) >= 4 && string(buf[len(buf)-4:]) == "\r\n\r\n" {
			break
		}
	}
	return raw, protocol.NewConn(raw)
}

func unmarshalRaw(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
