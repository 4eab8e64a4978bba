// Package protocol defines the WebSocket message types and structures used for
// communication between the chat client and server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator. Event names match the browser client's vocabulary, including
// the embedded spaces.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/minoa/simple-chat/internal/chatlog"
)

// Client -> Server message types.
const (
	TypeAddUser    = "add user"
	TypeNewMessage = "new message"
	TypeTyping     = "typing"
	TypeStopTyping = "stop typing"
	TypePing       = "ping"
)

// Server -> Client message types. TypeNewMessage, TypeTyping, and
// TypeStopTyping are shared with the client vocabulary above.
const (
	TypeChatLog    = "chat log"
	TypeLogin      = "login"
	TypeUserJoined = "user joined"
	TypeUserLeft   = "user left"
	TypeError      = "error"
	TypePong       = "pong"
)

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

// AddUserMsg is sent by the client to claim a username for its session.
type AddUserMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// NewMessageMsg is a chat message sent by the client.
type NewMessageMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// TypingMsg signals that the client started typing.
type TypingMsg struct {
	Type string `json:"type"`
}

// StopTypingMsg signals that the client stopped typing.
type StopTypingMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ChatLogMsg delivers the persisted chat history to a newly connected client.
type ChatLogMsg struct {
	Type string          `json:"type"`
	Log  []chatlog.Entry `json:"log"`
}

// LoginMsg confirms a successful add user to the naming client.
type LoginMsg struct {
	Type     string `json:"type"`
	NumUsers int    `json:"numUsers"`
}

// ServerNewMessageMsg relays a chat message from another participant.
type ServerNewMessageMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// UserJoinedMsg announces that a participant picked a name.
type UserJoinedMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	NumUsers int    `json:"numUsers"`
}

// UserLeftMsg announces that a named participant disconnected.
type UserLeftMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	NumUsers int    `json:"numUsers"`
}

// ServerTypingMsg relays another participant's typing indicator.
type ServerTypingMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// ServerStopTypingMsg relays that another participant stopped typing.
type ServerStopTypingMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAddUser:
		var m AddUserMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeNewMessage:
		var m NewMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStopTyping:
		var m StopTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
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
