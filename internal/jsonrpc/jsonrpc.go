// Package jsonrpc defines the wire envelope shared by every transport in
// the gateway: the inbound client protocol, the outbound backend protocol,
// and the framing helpers used by both. Backend params/result bodies are
// treated as opaque json.RawMessage; only the envelope fields are ever
// inspected for routing.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC version this gateway speaks.
const Version = "2.0"

// Request is an inbound or outbound JSON-RPC request/notification. ID is
// nil for a notification. Per the wire contract, an inbound client message
// with no id is treated as id 0 for reply purposes (see ResponseID).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether this message carries no id and therefore
// expects no reply.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// ResponseID returns the id to echo back in a reply: the request's own id,
// or the JSON literal 0 when the request omitted one.
func (r *Request) ResponseID() json.RawMessage {
	if len(r.ID) == 0 {
		return json.RawMessage("0")
	}
	return r.ID
}

// Response is an outbound or inbound JSON-RPC reply. Exactly one of Result
// and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object, relayed verbatim when it originates
// from a backend.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds an outbound request with the given numeric id.
func NewRequest(id int64, method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	idBytes, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: Version, ID: idBytes, Method: method, Params: raw}, nil
}

// NewNotification builds an outbound request with no id.
func NewNotification(method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: Version, Method: method, Params: raw}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}

// NewResultResponse builds a successful reply for the given echoed id.
func NewResultResponse(id json.RawMessage, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error reply for the given echoed id.
func NewErrorResponse(id json.RawMessage, code int, message string, data any) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message, Data: data}}
}

// Decode parses one line of newline-delimited JSON-RPC traffic. It first
// tries Request shape (method present); a message with no method but an id
// is treated as a Response.
func Decode(line []byte) (*Request, *Response, error) {
	var probe struct {
		Method *string `json:"method"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, nil, fmt.Errorf("decode envelope: %w", err)
	}
	if probe.Method != nil {
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			return nil, nil, fmt.Errorf("decode request: %w", err)
		}
		return &req, nil, nil
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, nil, fmt.Errorf("decode response: %w", err)
	}
	return nil, &resp, nil
}

// IDsEqual compares two raw JSON ids for equality by decoding both to
// interface{} so that "1" and 1 compare unequal but 1 and 1 (even written
// differently) compare equal.
func IDsEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	af, aIsNum := av.(float64)
	bf, bIsNum := bv.(float64)
	if aIsNum && bIsNum {
		return af == bf
	}
	return av == bv
}
