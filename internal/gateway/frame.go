// Package gateway exposes the agent runtime over three external
// interfaces: a WebSocket req/res/event protocol, an OpenAI-compatible
// HTTP chat endpoint, and webhook ingress. Grounded on the teacher's
// internal/gateway/ws_control_plane.go frame shapes and ws_schema.go's
// jsonschema-validated method table, reduced to the methods and
// handshake spec.md §6 actually names.
package gateway

import "encoding/json"

// ProtocolVersion is bumped on any breaking wire change.
const ProtocolVersion = 1

// Frame is the single wire envelope for all three frame kinds: "req"
// (client to server), "res" (server to client, answering a req by id),
// and "event" (unsolicited server push).
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

// FrameError is the {code,message} error shape carried by a failed res frame.
type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes surfaced over the wire, per spec.md §6.
const (
	ErrProtocolError   = "PROTOCOL_ERROR"
	ErrAuthFailed      = "AUTH_FAILED"
	ErrInvalidParams   = "INVALID_PARAMS"
	ErrNotFound        = "NOT_FOUND"
	ErrMethodNotFound  = "METHOD_NOT_FOUND"
	ErrLLMError        = "LLM_ERROR"
	ErrCommandBlocked  = "COMMAND_BLOCKED"
	ErrTimeout         = "TIMEOUT"
	ErrSpawnError      = "SPAWN_ERROR"
	ErrIOError         = "IO_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

func marshalFrame(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

func reqFrame(id, method string, params json.RawMessage) *Frame {
	return &Frame{Type: "req", ID: id, Method: method, Params: params}
}

func okFrame(id string, payload any) *Frame {
	ok := true
	return &Frame{Type: "res", ID: id, OK: &ok, Payload: payload}
}

func errFrame(id, code, message string) *Frame {
	ok := false
	return &Frame{Type: "res", ID: id, OK: &ok, Error: &FrameError{Code: code, Message: message}}
}

func eventFrame(name string, payload any, seq int64) *Frame {
	return &Frame{Type: "event", Event: name, Payload: payload, Seq: &seq}
}

// connectParams is the body of the initial "connect" request that completes
// the handshake.
type connectParams struct {
	MinProtocol int             `json:"minProtocol"`
	MaxProtocol int             `json:"maxProtocol"`
	Client      connectClient   `json:"client"`
	Auth        *connectAuth    `json:"auth,omitempty"`
}

type connectClient struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
}

type connectAuth struct {
	Token string `json:"token"`
}

// chatSendParams is the body of a "chat.send" request.
type chatSendParams struct {
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content"`
	Model     string `json:"model,omitempty"`
}
