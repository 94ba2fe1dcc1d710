package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Frame type tags used on the chat socket.
const (
	FrameTypeChatMessage       = "chat_message"
	FrameTypeHeartbeat         = "heartbeat"
	FrameTypeHeartbeatResponse = "heartbeat_response"
)

// InboundFrame is one decoded server frame: HeartbeatFrame, ErrorFrame or
// ChatPayload.
type InboundFrame interface {
	Kind() string
}

// HeartbeatFrame is a server liveness probe. Timestamp is opaque and must be
// echoed back unchanged.
type HeartbeatFrame struct {
	Timestamp json.RawMessage
}

func (HeartbeatFrame) Kind() string { return "heartbeat" }

// ErrorFrame carries a server-side error text.
type ErrorFrame struct {
	Error string
}

func (ErrorFrame) Kind() string { return "error" }

// ChatPayload is any other frame. It is forwarded to subscribers verbatim.
// ARCHITECTURAL DISCOVERY: The server's payload shape is not fixed, so the
// raw object is kept alongside a field index instead of a rigid struct.
type ChatPayload struct {
	Raw    json.RawMessage
	Fields map[string]json.RawMessage
}

func (ChatPayload) Kind() string { return "payload" }

// Type returns the payload's "type" field, or "" when absent.
func (p ChatPayload) Type() string {
	return p.String("type")
}

// String returns a field as text. JSON strings are unquoted; any other value
// is returned in its JSON form. Missing and null fields yield "".
func (p ChatPayload) String(key string) string {
	raw, ok := p.Fields[key]
	if !ok {
		return ""
	}
	return rawText(raw)
}

// Decode unmarshals the whole payload into v.
func (p ChatPayload) Decode(v interface{}) error {
	return json.Unmarshal(p.Raw, v)
}

// ChatMessageFrame is the outbound chat frame.
type ChatMessageFrame struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Receiver int64  `json:"receiver"`
}

// NewChatMessageFrame builds the wire frame for an outbound message.
func NewChatMessageFrame(msg OutboundMessage) ChatMessageFrame {
	return ChatMessageFrame{
		Type:     FrameTypeChatMessage,
		Message:  msg.Message,
		Receiver: msg.Receiver,
	}
}

// HeartbeatAckFrame answers a HeartbeatFrame.
type HeartbeatAckFrame struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// NewHeartbeatAck echoes the heartbeat's timestamp. A heartbeat without a
// timestamp is answered with a null timestamp.
func NewHeartbeatAck(hb HeartbeatFrame) HeartbeatAckFrame {
	ts := hb.Timestamp
	if len(ts) == 0 {
		ts = json.RawMessage("null")
	}
	return HeartbeatAckFrame{Type: FrameTypeHeartbeatResponse, Timestamp: ts}
}

// ParseFrame decodes one inbound text frame. Only JSON objects are valid.
// TECHNICAL DISCOVERY: Fields are indexed as raw JSON first so an unexpected
// field type never turns a valid payload into a parse failure.
func ParseFrame(data []byte) (InboundFrame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: frame is not an object", ErrMalformedFrame)
	}

	if rawText(fields["type"]) == FrameTypeHeartbeat {
		return HeartbeatFrame{Timestamp: fields["timestamp"]}, nil
	}

	if raw, ok := fields["error"]; ok && truthy(raw) {
		return ErrorFrame{Error: rawText(raw)}, nil
	}

	return ChatPayload{Raw: append(json.RawMessage(nil), data...), Fields: fields}, nil
}

func rawText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if trimmed[0] == '"' && json.Unmarshal(trimmed, &s) == nil {
		return s
	}
	return string(trimmed)
}

// truthy reports whether a JSON value counts as set: not null, false, 0 or "".
func truthy(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "false", "0", `""`:
		return false
	}
	return true
}
