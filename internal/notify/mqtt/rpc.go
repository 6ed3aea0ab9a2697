package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const rpcVersion = "2.0"

var (
	// ErrBadRequest is returned for payloads that are not JSON-RPC 2.0 requests.
	ErrBadRequest = errors.New("invalid JSON-RPC request")
	// ErrRequestExpired is returned when params.timeout already passed.
	ErrRequestExpired = errors.New("request received after its timeout")
	// ErrUnknownMethod is returned for methods the gateway does not serve.
	ErrUnknownMethod = errors.New("unknown method")
)

// Request is a JSON-RPC 2.0 request. ID may be a string or a number.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 reply. Consumers read failures from "errors".
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Errors  any             `json:"errors,omitempty"`
}

// deadline is the part of params every method may carry.
type deadline struct {
	// Timeout is an absolute epoch millisecond deadline.
	Timeout int64 `json:"timeout"`
}

// ParseRequest decodes and validates a request; the returned request keeps its id even when
// validation fails so the caller can reply.
func ParseRequest(payload []byte, now time.Time) (*Request, error) {
	req := new(Request)
	if err := json.Unmarshal(payload, req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	if req.JSONRPC != rpcVersion || len(req.ID) == 0 || req.Method == "" {
		return req, ErrBadRequest
	}

	if len(req.Params) > 0 {
		var d deadline
		if err := json.Unmarshal(req.Params, &d); err == nil && d.Timeout > 0 && d.Timeout <= now.UnixMilli() {
			return req, ErrRequestExpired
		}
	}

	return req, nil
}

// Bind decodes params into dst; absent params leave dst untouched.
func (r *Request) Bind(dst any) error {
	if len(r.Params) == 0 || string(r.Params) == "null" {
		return nil
	}

	if err := json.Unmarshal(r.Params, dst); err != nil {
		return fmt.Errorf("%w: params: %w", ErrBadRequest, err)
	}

	return nil
}

// Success builds a result reply.
func Success(id json.RawMessage, result any) Response {
	return Response{JSONRPC: rpcVersion, ID: id, Result: result}
}

// Failure builds an error reply carrying err's text.
func Failure(id json.RawMessage, err error) Response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}

	return Response{JSONRPC: rpcVersion, ID: id, Errors: err.Error()}
}
