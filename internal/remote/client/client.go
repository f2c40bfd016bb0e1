// Package client implements the Remote Client (C8): a single logical
// connection to one remote server, with auth handshake, heartbeat,
// automatic token refresh, and exponential-backoff reconnect.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/remote/protocol"
)

// State is the client's connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

const (
	heartbeatInterval    = 15 * time.Second
	refreshThreshold     = 1 * time.Hour
	authResponseTimeout  = 10 * time.Second
	upgradeHeader        = "Ralph-Remote-Upgrade"
)

var ErrAuthRejected = errors.New("client: server rejected auth")

// Config configures a Client.
type Config struct {
	Addr        string // host:port
	ServerToken string
	Logger      *slog.Logger
	Backoff     *backoffPolicy // nil => defaultBackoffPolicy()
}

// Client maintains one logical connection. Safe for concurrent use: all
// mutable fields are guarded by mu, and exactly one goroutine (readLoop)
// reads from the network connection at a time.
type Client struct {
	cfg     Config
	backoff backoffPolicy
	log     *slog.Logger
	bus     *eventBus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	state           State
	raw             net.Conn
	conn            *protocol.Conn
	connCtx         context.Context
	connCancel      context.CancelFunc
	connectionToken string
	tokenExpiresAt  time.Time
	intentional     bool
	lastPingAt      time.Time
	latency         time.Duration

	pendingMu sync.Mutex
	pending   map[string]chan pendingReply
}

type pendingReply struct {
	env protocol.Envelope
	raw json.RawMessage
	err error
}

// New constructs a Client. Call Connect to establish the connection.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	bp := defaultBackoffPolicy()
	if cfg.Backoff != nil {
		bp = *cfg.Backoff
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:     cfg,
		backoff: bp,
		log:     cfg.Logger,
		bus:     newEventBus(),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateDisconnected,
		pending: map[string]chan pendingReply{},
	}
}

// Subscribe registers a new event subscriber. Call cancel to unregister.
func (c *Client) Subscribe() (<-chan Event, func()) {
	return c.bus.subscribe()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect performs the initial handshake synchronously; on success it
// starts the background read/heartbeat loops and returns nil. On
// rejection (bad token) it returns ErrAuthRejected and does not retry —
// per the protocol, rejected auth never reconnects.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	raw, conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("client: dial: %w", err)
	}

	if err := c.authenticate(ctx, conn, c.cfg.ServerToken, "server"); err != nil {
		_ = raw.Close()
		c.setState(StateDisconnected)
		return err
	}

	connCtx, connCancel := context.WithCancel(c.ctx)
	c.mu.Lock()
	c.raw = raw
	c.conn = conn
	c.connCtx = connCtx
	c.connCancel = connCancel
	c.intentional = false
	c.mu.Unlock()
	c.setState(StateConnected)
	c.bus.publish(Event{Type: EventConnected})

	c.wg.Add(2)
	go c.readLoop(connCtx, connCancel, conn)
	go c.heartbeatLoop(connCtx, conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, *protocol.Conn, error) {
	raw, err := net.DialTimeout("tcp", c.cfg.Addr, 5*time.Second)
	if err != nil {
		return nil, nil, err
	}
	req := fmt.Sprintf("GET / HTTP/1.1\r\nHost: %s\r\n%s: 1\r\n\r\n", c.cfg.Addr, upgradeHeader)
	if _, err := raw.Write([]byte(req)); err != nil {
		_ = raw.Close()
		return nil, nil, err
	}
	if err := consumeUpgradeResponse(raw); err != nil {
		_ = raw.Close()
		return nil, nil, err
	}
	return raw, protocol.NewConn(raw), nil
}

// consumeUpgradeResponse reads and discards the HTTP response line and
// headers that precede the raw framed-JSON stream.
func consumeUpgradeResponse(raw net.Conn) error {
	buf := make([]byte, 0, 256)
	tmp := make([]byte, 1)
	for {
		n, err := raw.Read(tmp)
		if err != nil || n == 0 {
			return fmt.Errorf("read upgrade response: %w", err)
		}
		buf = append(buf, tmp[0])
		if len(buf) >= 4 && string(buf[len(buf)-4:]) == "\r\n\r\n" {
			return nil
		}
		if len(buf) > 8192 {
			return errors.New("upgrade response too large")
		}
	}
}

func (c *Client) authenticate(ctx context.Context, conn *protocol.Conn, token, tokenType string) error {
	env := protocol.NewEnvelope(protocol.TypeAuth)
	if err := conn.WriteFrame(protocol.Auth{Envelope: env, Token: token, TokenType: tokenType}); err != nil {
		return fmt.Errorf("client: send auth: %w", err)
	}

	type result struct {
		resp protocol.AuthResponse
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		respEnv, raw, err := conn.ReadFrame()
		if err != nil {
			resCh <- result{err: err}
			return
		}
		if respEnv.Type != protocol.TypeAuthResponse {
			resCh <- result{err: fmt.Errorf("client: expected auth_response, got %s", respEnv.Type)}
			return
		}
		var resp protocol.AuthResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			resCh <- result{err: err}
			return
		}
		resCh <- result{resp: resp}
	}()

	select {
	case r := <-resCh:
		if r.err != nil {
			return fmt.Errorf("client: auth handshake: %w", r.err)
		}
		if !r.resp.Success {
			return fmt.Errorf("%w: %s", ErrAuthRejected, r.resp.Error)
		}
		c.mu.Lock()
		c.connectionToken = r.resp.ConnectionToken
		c.tokenExpiresAt = r.resp.ExpiresAt
		c.mu.Unlock()
		return nil
	case <-time.After(authResponseTimeout):
		return errors.New("client: auth_response timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the connection and suppresses reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	raw := c.raw
	c.mu.Unlock()
	if raw != nil {
		_ = raw.Close()
	}
	c.setState(StateDisconnected)
	c.cancel()
	c.wg.Wait()
}

func (c *Client) readLoop(connCtx context.Context, connCancel context.CancelFunc, conn *protocol.Conn) {
	defer c.wg.Done()
	defer connCancel()
	for {
		env, raw, err := conn.ReadFrame()
		if err != nil {
			c.handleDisconnect(connCtx, err)
			return
		}
		c.dispatch(env, raw)
	}
}

func (c *Client) dispatch(env protocol.Envelope, raw json.RawMessage) {
	switch env.Type {
	case protocol.TypeEngineEvent:
		var msg protocol.EngineEvent
		_ = json.Unmarshal(raw, &msg)
		c.bus.publish(Event{
			Type:       EventEngineEvent,
			EngineType: msg.EventType,
			TaskID:     msg.TaskID,
			Stream:     msg.Stream,
			Data:       msg.Data,
			Iteration:  msg.Iteration,
		})
	case protocol.TypePong:
		c.mu.Lock()
		if !c.lastPingAt.IsZero() {
			c.latency = time.Since(c.lastPingAt)
		}
		c.mu.Unlock()
	case protocol.TypePing:
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.WriteFrame(protocol.Pong{Envelope: protocol.ReplyEnvelope(protocol.TypePong, env.ID)})
		}
	case protocol.TypeTokenRefreshResponse:
		var msg protocol.TokenRefreshResponse
		if err := json.Unmarshal(raw, &msg); err == nil && msg.Token != "" {
			c.mu.Lock()
			c.connectionToken = msg.Token
			c.tokenExpiresAt = msg.ExpiresAt
			c.mu.Unlock()
		}
	case protocol.TypeError:
		var msg protocol.Error
		_ = json.Unmarshal(raw, &msg)
		c.log.Warn("client: server error", "code", msg.Code, "message", msg.Message)
	default:
		c.deliverPending(env, raw, nil)
	}
}

// deliverPending routes a response frame to whatever SendRequest call is
// waiting on its request id.
func (c *Client) deliverPending(env protocol.Envelope, raw json.RawMessage, err error) {
	c.pendingMu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- pendingReply{env: env, raw: raw, err: err}
	}
}

// SendRequest writes a request frame and blocks for its correlated
// response, matched by echoing the request's envelope id.
func (c *Client) SendRequest(ctx context.Context, requestID string, msg any) (protocol.Envelope, json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return protocol.Envelope{}, nil, errors.New("client: not connected")
	}

	replyCh := make(chan pendingReply, 1)
	c.pendingMu.Lock()
	c.pending[requestID] = replyCh
	c.pendingMu.Unlock()

	if err := conn.WriteFrame(msg); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
		return protocol.Envelope{}, nil, err
	}

	select {
	case r := <-replyCh:
		return r.env, r.raw, r.err
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
		return protocol.Envelope{}, nil, ctx.Err()
	}
}

func (c *Client) heartbeatLoop(connCtx context.Context, conn *protocol.Conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-connCtx.Done():
			return
		case <-ticker.C:
			c.sendHeartbeat(conn)
			c.maybeRefreshToken(conn)
		}
	}
}

func (c *Client) sendHeartbeat(conn *protocol.Conn) {
	c.mu.Lock()
	c.lastPingAt = time.Now().UTC()
	c.mu.Unlock()
	_ = conn.WriteFrame(protocol.Ping{Envelope: protocol.NewEnvelope(protocol.TypePing)})
}

func (c *Client) maybeRefreshToken(conn *protocol.Conn) {
	c.mu.Lock()
	expiresAt := c.tokenExpiresAt
	token := c.connectionToken
	c.mu.Unlock()
	if expiresAt.IsZero() || time.Until(expiresAt) >= refreshThreshold {
		return
	}
	// A refresh failure does not tear down the connection; the existing
	// token remains valid until it actually expires.
	if err := conn.WriteFrame(protocol.TokenRefresh{Envelope: protocol.NewEnvelope(protocol.TypeTokenRefresh), Token: token}); err != nil {
		c.log.Warn("client: token refresh send failed", "error", err)
	}
}

// handleDisconnect reacts to an unexpected read failure: if the
// disconnect was not user-initiated, kick off the reconnect loop. connCtx
// identifies the connection generation that failed, so a reconnect that
// has already succeeded (and replaced c.conn) is not torn down by a
// stale failure from the previous generation.
func (c *Client) handleDisconnect(connCtx context.Context, err error) {
	c.mu.Lock()
	intentional := c.intentional
	current := c.connCtx == connCtx
	if current {
		c.raw = nil
		c.conn = nil
	}
	c.mu.Unlock()
	if !current {
		return
	}

	if intentional {
		c.bus.publish(Event{Type: EventDisconnected})
		return
	}

	c.setState(StateReconnecting)
	c.bus.publish(Event{Type: EventDisconnected, Error: err.Error()})
	go c.reconnectLoop()
}

// reconnectLoop retries Connect with exponential backoff until it
// succeeds, the client is disconnected intentionally, or maxRetries is
// exceeded.
func (c *Client) reconnectLoop() {
	for attempt := 0; attempt < c.backoff.MaxRetries; attempt++ {
		c.mu.Lock()
		intentional := c.intentional
		c.mu.Unlock()
		if intentional {
			return
		}

		delay := c.backoff.delay(attempt)
		if !c.backoff.silent(attempt) {
			c.bus.publish(Event{Type: EventReconnecting, Attempt: attempt + 1, DelayMs: delay.Milliseconds()})
		}

		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return
		}

		if err := c.Connect(c.ctx); err == nil {
			return
		} else if errors.Is(err, ErrAuthRejected) {
			c.bus.publish(Event{Type: EventFailed, Error: err.Error()})
			return
		}
	}
	c.bus.publish(Event{Type: EventFailed, Error: "max reconnect attempts exceeded"})
	c.setState(StateDisconnected)
}
