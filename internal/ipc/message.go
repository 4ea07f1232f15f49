// Package ipc defines the newline-delimited JSON envelope exchanged with the
// UI process: requests, responses and unsolicited events.
package ipc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Type discriminates the three kinds of envelope.
type Type string

const (
	TypeRequest  Type = "request"
	TypeResponse Type = "response"
	TypeEvent    Type = "event"
)

// UnknownID is echoed when a frame could not be parsed far enough to read its id.
const UnknownID = "unknown"

// Message is the single wire record. Responses carry id, type, result and
// error, with the unused one of the last two encoded as null. Requests and
// events carry id, type, method and params.
type Message struct {
	ID     string          `json:"id"`
	Type   Type            `json:"type"`
	Method *string         `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// NewRequest builds a request with a fresh id.
func NewRequest(method string, params any) (*Message, error) {
	raw, err := encode(params)
	if err != nil {
		return nil, err
	}
	return &Message{ID: uuid.NewString(), Type: TypeRequest, Method: &method, Params: raw}, nil
}

// NewEvent builds an event with a fresh id. Events are never answered.
func NewEvent(name string, params any) (*Message, error) {
	raw, err := encode(params)
	if err != nil {
		return nil, err
	}
	return &Message{ID: uuid.NewString(), Type: TypeEvent, Method: &name, Params: raw}, nil
}

// NewResult builds a success response for request id. A nil result is sent as {}.
func NewResult(id string, result any) (*Message, error) {
	if result == nil {
		result = struct{}{}
	}
	raw, err := encode(result)
	if err != nil {
		return nil, err
	}
	return &Message{ID: id, Type: TypeResponse, Result: raw}, nil
}

// NewErrorResponse builds a failure response for request id.
func NewErrorResponse(id string, e *Error) *Message {
	if e == nil {
		e = Errorf(CodeInternalError, "unknown error")
	}
	return &Message{ID: id, Type: TypeResponse, Error: e}
}

// MethodName returns the method or an empty string.
func (m *Message) MethodName() string {
	if m.Method == nil {
		return ""
	}
	return *m.Method
}

// IsSuccess reports whether m is a response without an error.
func (m *Message) IsSuccess() bool {
	return m.Type == TypeResponse && m.Error == nil
}

// DecodeResult unmarshals the result of a response into v.
func (m *Message) DecodeResult(v any) error {
	if m.Error != nil {
		return m.Error
	}
	if len(m.Result) == 0 {
		return fmt.Errorf("response %s has no result", m.ID)
	}
	return json.Unmarshal(m.Result, v)
}

// HasParams reports whether the message carries a non-null params value.
func (m *Message) HasParams() bool {
	p := bytes.TrimSpace(m.Params)
	return len(p) > 0 && !bytes.Equal(p, []byte("null"))
}

type responseWire struct {
	ID     string          `json:"id"`
	Type   Type            `json:"type"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

type callWire struct {
	ID     string          `json:"id"`
	Type   Type            `json:"type"`
	Method *string         `json:"method"`
	Params json.RawMessage `json:"params"`
}

// envelope has Message's fields without its methods.
type envelope Message

// MarshalJSON writes only the keys that belong to m's type.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case TypeResponse:
		return json.Marshal(responseWire{ID: m.ID, Type: m.Type, Result: m.Result, Error: m.Error})
	case TypeRequest, TypeEvent:
		return json.Marshal(callWire{ID: m.ID, Type: m.Type, Method: m.Method, Params: m.Params})
	default:
		return json.Marshal(envelope(m))
	}
}

// UnmarshalJSON reads any envelope. A null params or result is left nil.
func (m *Message) UnmarshalJSON(data []byte) error {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	e.Params = dropNull(e.Params)
	e.Result = dropNull(e.Result)
	*m = Message(e)
	return nil
}

func dropNull(raw json.RawMessage) json.RawMessage {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}

// Encode renders m as one frame including the trailing newline.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode parses one frame. A JSON syntax failure yields a CodeParseError
// error; a well-formed value that is not a valid envelope yields
// CodeInvalidRequest. When the id could be read it is returned with the
// message so the caller can address its error response.
func Decode(line []byte) (*Message, *Error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, Errorf(CodeParseError, "Parse error: %v", err)
	}

	switch m.Type {
	case TypeRequest:
		if m.MethodName() == "" {
			return &m, Errorf(CodeInvalidRequest, "Invalid request: missing method")
		}
	case TypeResponse, TypeEvent:
	default:
		return &m, Errorf(CodeInvalidRequest, "Invalid request: unknown message type %q", m.Type)
	}
	if m.ID == "" {
		return &m, Errorf(CodeInvalidRequest, "Invalid request: missing id")
	}
	return &m, nil
}

func encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}
