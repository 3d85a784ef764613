// Package protocol defines the WebSocket message types exchanged between a
// client and the warden gateway. All messages are JSON-encoded and wrapped in
// an Envelope for uniform routing.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/dispatcher"
)

// Subprotocol is offered during the WebSocket handshake.
const Subprotocol = "warden-v1"

// MessageType identifies the kind of message in the WebSocket protocol.
type MessageType string

const (
	// Client → Gateway
	MsgActionSubmit MessageType = "action.submit"
	MsgPINConfirm   MessageType = "pin.confirm"
	MsgActionCancel MessageType = "action.cancel"
	MsgStateGet     MessageType = "state.get"

	// Gateway → Client
	MsgReady   MessageType = "session.ready"
	MsgOutcome MessageType = "outcome"
	MsgState   MessageType = "state"
	MsgPing    MessageType = "gateway.ping"

	// Bidirectional
	MsgError MessageType = "error"
)

// Envelope is the top-level message wrapper.
type Envelope struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id"`
	// ReplyTo carries the ID of the client message being answered.
	ReplyTo   string          `json:"reply_to,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope creates an Envelope with a fresh ID and current timestamp.
func NewEnvelope(msgType MessageType, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Envelope{
		Type:      msgType,
		ID:        uuid.New().String(),
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Reply creates a response envelope correlated with e.
func (e *Envelope) Reply(msgType MessageType, payload any) (*Envelope, error) {
	r, err := NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	r.ReplyTo = e.ID
	return r, nil
}

// Decode unmarshals the Payload into the given target.
func (e *Envelope) Decode(target any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, target)
}

// --- Client → Gateway payloads ---

// SubmitPayload is sent with MsgActionSubmit.
type SubmitPayload = action.Request

// ConfirmPayload is sent with MsgPINConfirm.
type ConfirmPayload struct {
	PIN string `json:"pin"`
}

// --- Gateway → Client payloads ---

// ReadyPayload is sent with MsgReady once the connection is authenticated.
type ReadyPayload struct {
	Client string           `json:"client"`
	State  dispatcher.State `json:"state"`
}

// StatePayload is sent with MsgState.
type StatePayload struct {
	State   dispatcher.State        `json:"state"`
	Pending *dispatcher.PendingView `json:"pending,omitempty"`
}

// ErrorPayload is sent with MsgError for protocol-level errors.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	CodeBadMessage  = "bad_message"
	CodeUnsupported = "unsupported_type"
)
