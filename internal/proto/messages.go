package proto

import (
	"encoding/json"
	"fmt"
)

// Frame types accepted from an endpoint.
const (
	TypeSession = "SESSION"
	TypeCommand = "COMMAND"
)

// Signals written back to endpoints. They are plain text rather than JSON;
// endpoints match them literally.
const (
	// SignalUp tells both endpoints their pairing is confirmed.
	SignalUp = "SESSION_UP"
	// SignalPartnerLost tells an endpoint it is pending: no partner yet, or
	// the partner just dropped.
	SignalPartnerLost = "SESSION_NOT_UP: -1"
	// SignalKeyMismatch tells both endpoints their declared keys disagree.
	SignalKeyMismatch = "SESSION_NOT_UP: -2"
	// SignalInvalid tells the declaring endpoint its declaration was
	// unusable and was ignored.
	SignalInvalid = "SESSION_NOT_UP: -100"
)

// Envelope is one endpoint frame. SESSION frames carry the pairing fields,
// COMMAND frames an opaque payload; the same shape serves both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Client  string          `json:"client,omitempty"`
	Target  string          `json:"target,omitempty"`
	Key     string          `json:"key,omitempty"`
	Command json.RawMessage `json:"command,omitempty"`
}

// Decode parses one inbound frame and rejects unknown frame types so the
// transport can drop them before they reach the broker.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case TypeSession, TypeCommand:
		return &env, nil
	}
	return nil, fmt.Errorf("proto: unknown frame type %q", env.Type)
}

// CommandPayload returns the bytes to relay for a COMMAND frame. A JSON
// string payload is delivered as its text, anything else verbatim.
func (e *Envelope) CommandPayload() []byte {
	var s string
	if err := json.Unmarshal(e.Command, &s); err == nil {
		return []byte(s)
	}
	return append([]byte(nil), e.Command...)
}

// Session builds the declaration frame an endpoint sends first.
func Session(client, target, key string) Envelope {
	return Envelope{Type: TypeSession, Client: client, Target: target, Key: key}
}

// Command builds a relay frame around an already-encoded payload.
func Command(payload json.RawMessage) Envelope {
	return Envelope{Type: TypeCommand, Command: payload}
}
