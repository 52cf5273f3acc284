package tools

import (
	"errors"
	"fmt"

	"github.com/abairt/gaelgate/bridge"
	"github.com/abairt/gaelgate/internal/jsonrpc"
)

// Gateway error codes, in the JSON-RPC implementation-defined range. These
// are part of the protocol surface and must stay stable.
const (
	CodeInvalidArguments    = jsonrpc.CodeInvalidParams
	CodeUnknownTool         jsonrpc.ErrorCode = -32000
	CodeUpstreamUnavailable jsonrpc.ErrorCode = -32001
	CodeMalformedUpstream   jsonrpc.ErrorCode = -32002
	CodeNotInitialized      jsonrpc.ErrorCode = -32003
	CodeSessionNotFound     jsonrpc.ErrorCode = -32004
)

// Error is a protocol-mapped domain error: a stable numeric code plus a
// message safe to hand to clients.
type Error struct {
	Code    jsonrpc.ErrorCode
	Message string
}

func (e *Error) Error() string { return e.Message }

// RPCError renders the error as a JSON-RPC error member.
func (e *Error) RPCError() *jsonrpc.Error {
	return &jsonrpc.Error{Code: e.Code, Message: e.Message}
}

// ErrUnknownTool reports a call to an unregistered tool name.
func ErrUnknownTool(name string) *Error {
	return &Error{Code: CodeUnknownTool, Message: fmt.Sprintf("unknown tool: %s", name)}
}

// ErrInvalidArguments reports a missing or mistyped tool argument. The field
// name is always included so clients can correct the call.
func ErrInvalidArguments(field, reason string) *Error {
	return &Error{Code: CodeInvalidArguments, Message: fmt.Sprintf("invalid arguments: field %q %s", field, reason)}
}

// translateError maps a handler failure onto the protocol taxonomy. Upstream
// detail is logged by the bridge, not echoed to clients: messages here never
// carry internal addresses.
func translateError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	switch {
	case errors.Is(err, bridge.ErrMalformedResponse):
		return &Error{Code: CodeMalformedUpstream, Message: "upstream returned an unexpected response shape"}
	case errors.Is(err, bridge.ErrUnavailable):
		return &Error{Code: CodeUpstreamUnavailable, Message: "upstream service unavailable"}
	}
	return &Error{Code: jsonrpc.CodeInternalError, Message: "internal error"}
}
