// Package jsonrpc carries the JSON-RPC 2.0 envelope types shared by the
// gateway's transports. It is deliberately transport-agnostic: framing
// (newline-delimited lines, SSE data frames) is the adapters' business.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC protocol version the gateway speaks.
const Version = "2.0"

// ErrorCode is a JSON-RPC 2.0 error code. Gateway-specific codes live in the
// tools package; the constants here are the standard ones.
type ErrorCode int

const (
	CodeParseError     ErrorCode = -32700
	CodeInvalidRequest ErrorCode = -32600
	CodeMethodNotFound ErrorCode = -32601
	CodeInvalidParams  ErrorCode = -32602
	CodeInternalError  ErrorCode = -32603
)

// ID is a request identifier: a JSON string or number, or absent for
// notifications. The zero value is the absent ID.
type ID struct {
	value any
}

// NewID wraps a string or numeric value as a request ID. Unsupported types
// yield the absent ID.
func NewID(v any) ID {
	switch v.(type) {
	case string, int, int32, int64, float64:
		return ID{value: v}
	}
	return ID{}
}

// IsNil reports whether the ID is absent, i.e. the message is a notification.
func (id ID) IsNil() bool { return id.value == nil }

// String renders the ID for correlation in logs. Absent IDs render empty.
func (id ID) String() string {
	if id.value == nil {
		return ""
	}
	return fmt.Sprintf("%v", id.value)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		if num == float64(int64(num)) {
			id.value = int64(num)
		} else {
			id.value = num
		}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		id.value = str
		return nil
	}
	return fmt.Errorf("jsonrpc: id must be a string or number, got %s", data)
}

// Request is an inbound request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no ID and therefore
// expects no response.
func (r *Request) IsNotification() bool { return r.ID.IsNil() }

// Error is the JSON-RPC error member of a response.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Response is the single terminal outcome of a request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// NewResponse marshals result into a success response for id.
func NewResponse(id ID, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: marshal result: %w", err)
	}
	return &Response{JSONRPC: Version, Result: b, ID: id}, nil
}

// NewErrorResponse builds an error response for id.
func NewErrorResponse(id ID, code ErrorCode, message string) *Response {
	return &Response{
		JSONRPC: Version,
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// DecodeRequest parses and validates one request envelope. Batch arrays and
// response-shaped messages are rejected: clients only ever send the gateway
// requests and notifications.
func DecodeRequest(data []byte) (*Request, error) {
	for _, c := range data {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			return nil, fmt.Errorf("jsonrpc: batch requests are not supported")
		}
		break
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("jsonrpc: invalid message: %w", err)
	}
	if req.JSONRPC != Version {
		return nil, fmt.Errorf("jsonrpc: unsupported version %q", req.JSONRPC)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("jsonrpc: missing method")
	}
	return &req, nil
}
