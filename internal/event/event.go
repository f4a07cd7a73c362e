package event

import (
	"encoding/json"
	"time"
)

// Type is the closed set of envelope categories. Keeping the set closed means
// a mistyped category fails to compile instead of being silently dropped at
// runtime.
type Type string

const (
	TypeMessage      Type = "MESSAGE"
	TypeTyping       Type = "TYPING"
	TypeReadReceipt  Type = "READ_RECEIPT"
	TypeUserOnline   Type = "USER_ONLINE"
	TypeUserOffline  Type = "USER_OFFLINE"
	TypeNotification Type = "NOTIFICATION"
	TypePing         Type = "PING"
	TypePong         Type = "PONG"

	// TypeConnectionState never crosses the wire; the connection manager
	// publishes it locally so consumers can react to connectivity changes.
	TypeConnectionState Type = "CONNECTION_STATE"
)

// Valid reports whether t is a known category.
func (t Type) Valid() bool {
	switch t {
	case TypeMessage, TypeTyping, TypeReadReceipt,
		TypeUserOnline, TypeUserOffline, TypeNotification,
		TypePing, TypePong, TypeConnectionState:
		return true
	}
	return false
}

// Envelope is the wire frame exchanged over the push connection. The payload
// shape is fully determined by Type.
type Envelope struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New builds an envelope with a marshalled payload. A nil payload produces an
// empty data field, which is what PING/PONG frames carry.
func New(t Type, payload any, ts time.Time) (Envelope, error) {
	env := Envelope{Type: t, Timestamp: ts}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = data
	return env, nil
}

// Decode unmarshals the envelope payload into out.
func (e Envelope) Decode(out any) error {
	return json.Unmarshal(e.Data, out)
}
