package rpc

import (
	"encoding/json"
)

// ParseRequest validates raw bytes into a Request. It returns either a fully
// validated request or an *Error classifying the failure; it never returns a
// partially validated request. Validation covers the protocol version tag,
// the method name, the id type (string, number, or null), and the params
// shape (object or absent).
func ParseRequest(raw []byte) (*Request, *Error) {
	if !json.Valid(raw) {
		return nil, NewError(CodeParseError, "Parse error: invalid JSON")
	}

	// Decode into raw members first so each field can be validated
	// independently of Go's loose unmarshalling rules.
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, NewError(CodeInvalidRequest, "Invalid Request: request must be a JSON object")
	}

	var version string
	if v, ok := env["jsonrpc"]; !ok || json.Unmarshal(v, &version) != nil || version != Version {
		return nil, NewError(CodeInvalidRequest, `Invalid Request: missing or invalid jsonrpc version (must be "2.0")`)
	}

	var method string
	if m, ok := env["method"]; !ok || json.Unmarshal(m, &method) != nil || method == "" {
		return nil, NewError(CodeInvalidRequest, "Invalid Request: missing or invalid method field")
	}

	id, rpcErr := validateID(env["id"])
	if rpcErr != nil {
		return nil, rpcErr
	}

	params, rpcErr := validateParams(env["params"])
	if rpcErr != nil {
		return nil, rpcErr
	}

	return &Request{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
		ID:      id,
	}, nil
}

// validateID checks that the id member, when present, is a string, a number,
// or null. Objects, arrays, and booleans are rejected.
func validateID(raw json.RawMessage) (json.RawMessage, *Error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch raw[0] {
	case '"', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return raw, nil
	default:
		return nil, NewError(CodeInvalidRequest, "Invalid Request: id must be a string, number, or null")
	}
}

// validateParams checks that the params member, when present, is an object.
// Positional (array) params are not used by any agentrelay method.
func validateParams(raw json.RawMessage) (json.RawMessage, *Error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == 'n' { // explicit null is treated as absent
		return nil, nil
	}
	if raw[0] != '{' {
		return nil, NewError(CodeInvalidRequest, "Invalid Request: params must be an object")
	}
	return raw, nil
}
