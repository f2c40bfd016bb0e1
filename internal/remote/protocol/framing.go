package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Conn wraps a full-duplex byte stream (typically a hijacked net.Conn) to
// exchange one JSON value per frame. json.Decoder naturally consumes
// exactly one value at a time from a stream, so no explicit length prefix
// is needed; writes are serialized so concurrent senders never interleave
// partial frames.
type Conn struct {
	rw  io.ReadWriteCloser
	dec *json.Decoder
	mu  sync.Mutex
}

// NewConn wraps rw for framed JSON exchange.
func NewConn(rw io.ReadWriteCloser) *Conn {
	return &Conn{rw: rw, dec: json.NewDecoder(rw)}
}

// ReadFrame blocks for the next frame, returning its envelope (for type
// dispatch) and the raw bytes (for decoding the concrete payload).
func (c *Conn) ReadFrame() (Envelope, json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.dec.Decode(&raw); err != nil {
		return Envelope{}, nil, err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	return env, raw, nil
}

// WriteFrame marshals v and writes it as one frame. Safe for concurrent
// use; writes from different goroutines are serialized but never
// interleaved.
func (c *Conn) WriteFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: marshal frame: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.rw.Write(data)
	return err
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.rw.Close()
}
