package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 types

// Version is the only accepted value of the "jsonrpc" member.
const Version = "2.0"

// Request is an incoming JSON-RPC 2.0 request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`

	idPresent bool
	invalid   string
}

// UnmarshalJSON decodes member by member so that a wrongly typed member
// marks the request invalid instead of failing the whole parse.
func (r *Request) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*r = Request{}

	if raw, ok := fields["jsonrpc"]; ok {
		if err := json.Unmarshal(raw, &r.JSONRPC); err != nil {
			r.invalid = "jsonrpc must be a string"
		}
	}
	if raw, ok := fields["method"]; ok {
		if err := json.Unmarshal(raw, &r.Method); err != nil {
			r.invalid = "method must be a string"
		}
	}
	if raw, ok := fields["params"]; ok {
		trimmed := bytes.TrimSpace(raw)
		switch {
		case bytes.Equal(trimmed, []byte("null")):
		case len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '['):
			r.Params = trimmed
		default:
			r.invalid = "params must be an object or array"
		}
	}
	if raw, ok := fields["id"]; ok {
		r.idPresent = true
		trimmed := bytes.TrimSpace(raw)
		if !validID(trimmed) {
			r.invalid = "id must be a string, number or null"
			return nil
		}
		r.ID = trimmed
	}
	return nil
}

func validID(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	switch c := raw[0]; {
	case c == '"':
		return true
	case c == '-' || (c >= '0' && c <= '9'):
		return true
	case bytes.Equal(raw, []byte("null")):
		return true
	}
	return false
}

// IsNotification reports whether the request carries no id member.
func (r *Request) IsNotification() bool {
	return !r.idPresent
}

// Validate returns an INVALID_REQUEST error when the envelope is malformed.
func (r *Request) Validate() *Error {
	if r.invalid != "" {
		return NewError(CodeInvalidRequest, "Invalid Request: "+r.invalid)
	}
	if r.JSONRPC != Version {
		return NewError(CodeInvalidRequest, `Invalid Request: jsonrpc must be "2.0"`)
	}
	if r.Method == "" {
		return NewError(CodeInvalidRequest, "Invalid Request: method is required")
	}
	return nil
}

// ResponseID returns the id to echo back; null when the request had none.
func (r *Request) ResponseID() json.RawMessage {
	if len(r.ID) == 0 {
		return nullID
	}
	return r.ID
}

var nullID = json.RawMessage("null")

// Response is an outgoing JSON-RPC 2.0 response. Exactly one of Result and
// Error is set; use NewResult and NewErrorResponse to build one.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResult builds a success response. A result that cannot be encoded
// becomes an INTERNAL_ERROR response.
func NewResult(id json.RawMessage, result any) *Response {
	data, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, NewError(CodeInternalError, fmt.Sprintf("failed to encode result: %v", err)))
	}
	return &Response{JSONRPC: Version, ID: normalizeID(id), Result: data}
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id json.RawMessage, rpcErr *Error) *Response {
	return &Response{JSONRPC: Version, ID: normalizeID(id), Error: rpcErr}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return nullID
	}
	return id
}

// Notification is a server-to-client JSON-RPC notification.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}
