package server

import (
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/engine"
	"github.com/ralph-tui/ralph-tui/internal/remote/protocol"
)

const (
	authTimeout      = 10 * time.Second
	heartbeatEvery   = 30 * time.Second
	heartbeatTimeout = 90 * time.Second
)

type connState string

const (
	connConnected     connState = "connected"
	connAuthenticated connState = "authenticated"
	connClosed        connState = "closed"
)

// connection is one client's state machine: connected -> authenticated ->
// (subscribed?) -> closed. Each connection owns exactly one goroutine
// reading frames and one writer guarded by the underlying protocol.Conn's
// own mutex, so writes from the event-fanout goroutine and the read loop
// never interleave.
type connection struct {
	id   string
	conn *protocol.Conn
	raw  net.Conn
	srv  *Server
	log  *slog.Logger

	mu          sync.Mutex
	state       connState
	subscribed  bool
	lastTraffic time.Time

	engineSub    <-chan engine.Event
	unsubEngine  func()
}

func newConnection(id string, raw net.Conn, srv *Server) *connection {
	return &connection{
		id:          id,
		conn:        protocol.NewConn(raw),
		raw:         raw,
		srv:         srv,
		log:         srv.log.With("conn", id),
		state:       connConnected,
		lastTraffic: time.Now().UTC(),
	}
}

func (c *connection) touch() {
	c.mu.Lock()
	c.lastTraffic = time.Now().UTC()
	c.mu.Unlock()
}

func (c *connection) getState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connection) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// run drives one connection until it closes, either because the peer hung
// up, the auth deadline passed, or a heartbeat was missed.
func (c *connection) run() {
	defer c.close()

	authDeadline := time.NewTimer(authTimeout)
	defer authDeadline.Stop()

	frames := make(chan frame, 8)
	readErr := make(chan error, 1)
	go c.readLoop(frames, readErr)

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case f := <-frames:
			c.touch()
			if !authDeadline.Stop() {
				select {
				case <-authDeadline.C:
				default:
				}
			}
			c.handleFrame(f)
			if c.getState() == connClosed {
				return
			}

		case err := <-readErr:
			if err != nil {
				c.log.Debug("remote: read loop ended", "error", err)
			}
			return

		case <-authDeadline.C:
			if c.getState() == connConnected {
				c.sendError(protocol.CodeAuthTimeout, "auth timeout")
				return
			}

		case <-heartbeat.C:
			c.mu.Lock()
			idle := time.Since(c.lastTraffic)
			c.mu.Unlock()
			if idle >= heartbeatTimeout {
				c.sendError(protocol.CodeHeartbeatTimeout, "heartbeat timeout")
				return
			}
			_ = c.conn.WriteFrame(protocol.Ping{Envelope: protocol.NewEnvelope(protocol.TypePing)})
			if c.getState() == connAuthenticated {
				c.sendServerStatus()
			}

		case ev := <-c.engineSubOrNil():
			c.forwardEvent(ev)
		}
	}
}

// engineSubOrNil returns the subscription channel, or a nil channel (which
// blocks forever in a select) until the connection has subscribed.
func (c *connection) engineSubOrNil() <-chan engine.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.subscribed {
		return nil
	}
	return c.engineSub
}

type frame struct {
	env protocol.Envelope
	raw json.RawMessage
}

func (c *connection) readLoop(frames chan<- frame, errCh chan<- error) {
	for {
		env, raw, err := c.conn.ReadFrame()
		if err != nil {
			errCh <- err
			return
		}
		frames <- frame{env: env, raw: raw}
	}
}

func (c *connection) handleFrame(f frame) {
	state := c.getState()

	if state == connConnected && f.env.Type != protocol.TypeAuth {
		c.sendError(protocol.CodeNotAuthenticated, "auth required")
		c.setState(connClosed)
		return
	}

	switch f.env.Type {
	case protocol.TypeAuth:
		c.handleAuth(f)
	case protocol.TypeTokenRefresh:
		c.handleTokenRefresh(f)
	case protocol.TypePing:
		_ = c.conn.WriteFrame(protocol.Pong{Envelope: protocol.ReplyEnvelope(protocol.TypePong, f.env.ID)})
	case protocol.TypePong:
		// Heartbeat traffic already bumped lastTraffic in run().
	case protocol.TypeSubscribe:
		c.handleSubscribe()
	case protocol.TypeUnsubscribe:
		c.handleUnsubscribe()
	case protocol.TypeGetState:
		c.handleGetState(f)
	case protocol.TypeGetTasks:
		c.handleGetTasks(f)
	case protocol.TypePause, protocol.TypeResume, protocol.TypeInterrupt,
		protocol.TypeRefreshTasks, protocol.TypeContinue,
		protocol.TypeAddIterations, protocol.TypeRemoveIterations:
		c.handleControl(f)
	case protocol.TypeGetPromptPreview:
		c.handleGetPromptPreview(f)
	case protocol.TypeGetIterationOutput:
		c.handleGetIterationOutput(f)
	case protocol.TypeCheckConfig:
		c.handleCheckConfig(f)
	case protocol.TypePushConfig:
		c.handlePushConfig(f)
	default:
		c.sendError(protocol.CodeUnknownMessage, "unknown message type: "+string(f.env.Type))
	}
}

func (c *connection) handleAuth(f frame) {
	var msg protocol.Auth
	if err := json.Unmarshal(f.raw, &msg); err != nil {
		c.sendError(protocol.CodeUnknownMessage, "malformed auth")
		c.setState(connClosed)
		return
	}
	if !c.srv.tokens.validate(msg.Token) {
		_ = c.conn.WriteFrame(protocol.AuthResponse{
			Envelope: protocol.ReplyEnvelope(protocol.TypeAuthResponse, f.env.ID),
			Success:  false,
			Error:    "invalid token",
		})
		c.setState(connClosed)
		return
	}
	ct := c.srv.tokens.issueConnectionToken()
	c.setState(connAuthenticated)
	_ = c.conn.WriteFrame(protocol.AuthResponse{
		Envelope:        protocol.ReplyEnvelope(protocol.TypeAuthResponse, f.env.ID),
		Success:         true,
		ConnectionToken: ct.Token,
		ExpiresAt:       ct.ExpiresAt,
	})
}

func (c *connection) handleTokenRefresh(f frame) {
	var msg protocol.TokenRefresh
	_ = json.Unmarshal(f.raw, &msg)
	ct := c.srv.tokens.refreshConnectionToken(msg.Token)
	_ = c.conn.WriteFrame(protocol.TokenRefreshResponse{
		Envelope:  protocol.ReplyEnvelope(protocol.TypeTokenRefreshResponse, f.env.ID),
		Token:     ct.Token,
		ExpiresAt: ct.ExpiresAt,
	})
}

func (c *connection) handleSubscribe() {
	c.mu.Lock()
	if !c.subscribed {
		c.engineSub, c.unsubEngine = c.srv.engine.Subscribe()
		c.subscribed = true
	}
	c.mu.Unlock()
}

func (c *connection) handleUnsubscribe() {
	c.mu.Lock()
	if c.subscribed {
		c.unsubEngine()
		c.subscribed = false
	}
	c.mu.Unlock()
}

func (c *connection) forwardEvent(ev engine.Event) {
	wire := protocol.EngineEvent{
		Envelope:  protocol.NewEnvelope(protocol.TypeEngineEvent),
		EventType: string(ev.Type),
		Iteration: ev.Iteration,
		Stream:    ev.Stream,
		Data:      ev.Data,
	}
	if ev.Task != nil {
		wire.TaskID = ev.Task.ID
	}
	_ = c.conn.WriteFrame(wire)
}

// sendServerStatus writes the periodic health broadcast spec §4.4 names
// alongside every heartbeat tick, once a connection is authenticated.
func (c *connection) sendServerStatus() {
	_ = c.conn.WriteFrame(protocol.ServerStatus{
		Envelope:         protocol.NewEnvelope(protocol.TypeServerStatus),
		UptimeSeconds:    int64(time.Since(c.srv.started).Seconds()),
		ConnectedClients: c.srv.ConnectionCount(),
	})
}

func (c *connection) sendError(code protocol.ErrorCode, msg string) {
	_ = c.conn.WriteFrame(protocol.Error{
		Envelope: protocol.NewEnvelope(protocol.TypeError),
		Code:     code,
		Message:  msg,
	})
}

func (c *connection) close() {
	c.setState(connClosed)
	c.mu.Lock()
	if c.subscribed && c.unsubEngine != nil {
		c.unsubEngine()
		c.subscribed = false
	}
	c.mu.Unlock()
	_ = c.raw.Close()
	c.srv.removeConn(c.id)
}
