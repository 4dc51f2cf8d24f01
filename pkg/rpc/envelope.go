// Package rpc provides the JSON-RPC 2.0 envelope types and the strict
// request parser used by every agentrelay transport.
package rpc

import (
	"encoding/json"
	"fmt"
)

// Version is the protocol version tag carried by every envelope.
const Version = "2.0"

// Error codes. The -327xx range follows JSON-RPC 2.0; the -320xx range is
// reserved for agentrelay session and infrastructure classifications.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeInfrastructure  = -32000
	CodeSessionNotFound = -32001
	CodeSessionExpired  = -32002
)

// Request is a validated JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	// ID is the raw request identifier. Preserving the raw bytes keeps the
	// original wire format (string, number, or null) intact in the response.
	ID json.RawMessage `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no id member and
// therefore expects no response. An explicit null id is a request; its
// response echoes the null.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result and
// Error is populated.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the error member of a response envelope. It also implements the
// error interface so handlers can return it directly.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError creates an Error with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an Error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewResult builds a success response for the given request id.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, ID: normalizeID(id), Result: result}
}

// NewErrorResponse builds an error response for the given request id.
// A nil id is serialized as null, matching JSON-RPC 2.0 for requests whose
// id could not be determined.
func NewErrorResponse(id json.RawMessage, rpcErr *Error) *Response {
	return &Response{JSONRPC: Version, ID: normalizeID(id), Error: rpcErr}
}

// normalizeID maps an absent id to explicit null so the "id" member is
// always present on the wire.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// Encode serializes a response envelope.
func (r *Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}
