// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/huddle/chat-server/internal/message"
	"github.com/huddle/chat-server/internal/presence"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeSendGroupMessage  = "send_group_message"
	TypeSendDirectMessage = "send_direct_message"
	TypeDeleteMessage     = "delete_message"
	TypePing              = "ping"
)

// Server -> Client message types.
const (
	TypePresenceList           = "presence_list"
	TypeInitialMessages        = "initial_messages"
	TypeInitialDirectMessages  = "initial_direct_messages"
	TypeGroupMessageAdded      = "group_message_added"
	TypeDirectMessageDelivered = "direct_message_delivered"
	TypeMessageDeleted         = "message_deleted"
	TypeAck                    = "ack"
	TypeSessionReplaced        = "session_replaced"
	TypeError                  = "error"
	TypePong                   = "pong"
)

// Deletion scopes.
const (
	ScopeGroup  = "group"
	ScopeDirect = "direct"
)

// ---------------------------------------------------------------------------
// Envelope is used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// SendGroupMessageMsg posts a message to the shared room. Text may be the
// empty string but must be present unless Image is set.
type SendGroupMessageMsg struct {
	Type      string  `json:"type"`
	RequestID string  `json:"request_id,omitempty" validate:"max=64"`
	Text      *string `json:"text"`
	Image     string  `json:"image,omitempty"`
}

// SendDirectMessageMsg sends a private message to one user.
type SendDirectMessageMsg struct {
	Type      string  `json:"type"`
	RequestID string  `json:"request_id,omitempty" validate:"max=64"`
	To        string  `json:"to" validate:"required"`
	Text      *string `json:"text"`
	Image     string  `json:"image,omitempty"`
}

// DeleteMessageMsg asks the server to delete one of the sender's messages.
type DeleteMessageMsg struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty" validate:"max=64"`
	MessageID string `json:"message_id" validate:"required"`
	Scope     string `json:"scope" validate:"required,oneof=group direct"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// UserPayload is one entry of the presence list. The session reference is
// never exposed.
type UserPayload struct {
	Username     string  `json:"username"`
	Online       bool    `json:"online"`
	ProfileImage *string `json:"profile_image"`
}

// GroupMessagePayload is the wire form of a group message.
type GroupMessagePayload struct {
	ID        string  `json:"id"`
	User      string  `json:"user"`
	Kind      string  `json:"kind"`
	Text      *string `json:"text,omitempty"`
	Image     string  `json:"image,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// DirectMessagePayload is the wire form of a direct message.
type DirectMessagePayload struct {
	ID        string  `json:"id"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Kind      string  `json:"kind"`
	Text      *string `json:"text,omitempty"`
	Image     string  `json:"image,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// PresenceListMsg carries the full user list.
type PresenceListMsg struct {
	Type  string        `json:"type"`
	Users []UserPayload `json:"users"`
}

// InitialMessagesMsg carries the group snapshot sent after authentication.
type InitialMessagesMsg struct {
	Type     string                `json:"type"`
	Messages []GroupMessagePayload `json:"messages"`
}

// InitialDirectMessagesMsg carries the user's direct-message snapshot.
type InitialDirectMessagesMsg struct {
	Type     string                 `json:"type"`
	Messages []DirectMessagePayload `json:"messages"`
}

// GroupMessageAddedMsg announces a new group message to every session.
type GroupMessageAddedMsg struct {
	Type    string              `json:"type"`
	Message GroupMessagePayload `json:"message"`
}

// DirectMessageDeliveredMsg delivers a direct message to its recipient.
type DirectMessageDeliveredMsg struct {
	Type    string               `json:"type"`
	Message DirectMessagePayload `json:"message"`
}

// MessageDeletedMsg tells every session to drop a message.
type MessageDeletedMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Scope     string `json:"scope"`
}

// AckMsg answers a single request. It is sent to the requester only.
type AckMsg struct {
	Type      string                `json:"type"`
	RequestID string                `json:"request_id,omitempty"`
	Op        string                `json:"op"`
	Success   bool                  `json:"success"`
	Error     *ErrorMsg             `json:"error,omitempty"`
	Message   *DirectMessagePayload `json:"message,omitempty"`
}

// SessionReplacedMsg is sent to a session superseded by a newer connection
// of the same user, right before it is closed.
type SessionReplacedMsg struct {
	Type string `json:"type"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Domain conversions
// ---------------------------------------------------------------------------

// User converts a presence record to its wire form.
func User(rec presence.Record) UserPayload {
	u := UserPayload{Username: rec.Username, Online: rec.Online}
	if rec.ProfileImage != "" {
		img := rec.ProfileImage
		u.ProfileImage = &img
	}
	return u
}

// Users converts a presence snapshot.
func Users(recs []presence.Record) []UserPayload {
	out := make([]UserPayload, 0, len(recs))
	for _, rec := range recs {
		out = append(out, User(rec))
	}
	return out
}

func splitBody(b message.Body) (string, *string, string) {
	if b == nil {
		return "", nil, ""
	}
	switch v := b.(type) {
	case message.Image:
		return string(message.KindImage), nil, string(v)
	default:
		text := b.Value()
		return string(message.KindText), &text, ""
	}
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// GroupMessage converts a stored group message to its wire form.
func GroupMessage(m message.Group) GroupMessagePayload {
	kind, text, image := splitBody(m.Body)
	return GroupMessagePayload{
		ID:        m.ID,
		User:      m.Author,
		Kind:      kind,
		Text:      text,
		Image:     image,
		Timestamp: timestamp(m.CreatedAt),
	}
}

// GroupMessages converts a group snapshot.
func GroupMessages(ms []message.Group) []GroupMessagePayload {
	out := make([]GroupMessagePayload, 0, len(ms))
	for _, m := range ms {
		out = append(out, GroupMessage(m))
	}
	return out
}

// DirectMessage converts a stored direct message to its wire form.
func DirectMessage(m message.Direct) DirectMessagePayload {
	kind, text, image := splitBody(m.Body)
	return DirectMessagePayload{
		ID:        m.ID,
		From:      m.From,
		To:        m.To,
		Kind:      kind,
		Text:      text,
		Image:     image,
		Timestamp: timestamp(m.CreatedAt),
	}
}

// DirectMessages converts a direct-message snapshot.
func DirectMessages(ms []message.Direct) []DirectMessagePayload {
	out := make([]DirectMessagePayload, 0, len(ms))
	for _, m := range ms {
		out = append(out, DirectMessage(m))
	}
	return out
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

var validate = validator.New()

// ValidationError wraps a payload that parsed as JSON but is missing
// required fields or carries invalid values. Callers acknowledge it to the
// requester without closing the session.
type ValidationError struct {
	MsgType   string
	RequestID string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("protocol: invalid %q payload: %v", e.MsgType, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types, and a *ValidationError for request payloads
// that fail to decode or fail field validation; the message is nil when
// decoding failed.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg       interface{}
		requestID string
		err       error
	)

	switch env.Type {
	case TypeSendGroupMessage:
		var m SendGroupMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg, requestID = m, m.RequestID
	case TypeSendDirectMessage:
		var m SendDirectMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg, requestID = m, m.RequestID
	case TypeDeleteMessage:
		var m DeleteMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg, requestID = m, m.RequestID
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		if env.Type == TypePing {
			return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
		}
		// Wrong field types are acked like any other invalid request.
		return env.Type, nil, &ValidationError{MsgType: env.Type, RequestID: lenientRequestID(env.Raw), Err: err}
	}
	if err := validate.Struct(msg); err != nil {
		return env.Type, msg, &ValidationError{MsgType: env.Type, RequestID: requestID, Err: err}
	}
	return env.Type, msg, nil
}

// lenientRequestID extracts request_id from a payload whose other fields may
// not decode. A missing or non-string request_id yields "".
func lenientRequestID(raw json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	var id string
	if err := json.Unmarshal(fields["request_id"], &id); err != nil || len(id) > 64 {
		return ""
	}
	return id
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
