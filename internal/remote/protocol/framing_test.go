package protocol

import (
	"encoding/json"
	"net"
	"testing"
)

// net.Conn already implements io.ReadWriteCloser, so NewConn wraps each side
// of a net.Pipe directly.
func TestConn_WriteReadFrame_RoundTrip(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	server := NewConn(serverSide)
	client := NewConn(clientSide)

	msg := Auth{Envelope: NewEnvelope(TypeAuth), Token: "secret", TokenType: "server"}

	go func() {
		_ = client.WriteFrame(msg)
	}()

	env, raw, err := server.ReadFrame()
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if env.Type != TypeAuth {
		t.Fatalf("expected type auth, got %s", env.Type)
	}
	var decoded Auth
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.Token != "secret" || decoded.TokenType != "server" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestConn_MultipleFramesInOrder(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	server := NewConn(serverSide)
	client := NewConn(clientSide)

	go func() {
		_ = client.WriteFrame(Ping{Envelope: NewEnvelope(TypePing)})
		_ = client.WriteFrame(Subscribe{Envelope: NewEnvelope(TypeSubscribe)})
	}()

	env1, _, err := server.ReadFrame()
	if err != nil {
		t.Fatalf("readFrame 1: %v", err)
	}
	env2, _, err := server.ReadFrame()
	if err != nil {
		t.Fatalf("readFrame 2: %v", err)
	}
	if env1.Type != TypePing || env2.Type != TypeSubscribe {
		t.Fatalf("expected [ping, subscribe], got [%s, %s]", env1.Type, env2.Type)
	}
}

func TestReplyEnvelope_EchoesRequestID(t *testing.T) {
	req := NewEnvelope(TypeGetState)
	reply := ReplyEnvelope(TypeStateResponse, req.ID)
	if reply.ID != req.ID {
		t.Fatalf("expected reply id %s to echo request id, got %s", req.ID, reply.ID)
	}
}
