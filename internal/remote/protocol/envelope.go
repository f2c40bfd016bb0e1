package protocol

import (
	"time"

	"github.com/google/uuid"
)

// NewEnvelope stamps a fresh id and timestamp for an outgoing message of
// type typ.
func NewEnvelope(typ Type) Envelope {
	return Envelope{Type: typ, ID: uuid.NewString(), Timestamp: time.Now().UTC()}
}

// ReplyEnvelope stamps a response envelope that echoes the request's id,
// per the protocol's request/response correlation rule.
func ReplyEnvelope(typ Type, requestID string) Envelope {
	return Envelope{Type: typ, ID: requestID, Timestamp: time.Now().UTC()}
}
