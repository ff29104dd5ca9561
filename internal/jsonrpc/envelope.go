// Package jsonrpc builds and decodes the JSON-RPC 2.0 envelopes spoken by
// the exchange over both HTTPS and WebSocket.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Version is the fixed protocol tag carried by every envelope.
const Version = "2.0"

type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      uint64         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

// Response is a decoded reply. Result and Error are mutually exclusive.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Testnet bool            `json:"testnet,omitempty"`
	UsIn    int64           `json:"usIn,omitempty"`
	UsOut   int64           `json:"usOut,omitempty"`
	UsDiff  int64           `json:"usDiff,omitempty"`

	raw json.RawMessage
}

// Error is the service-reported error payload.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Builder hands out requests with monotonically increasing ids.
type Builder struct {
	seq atomic.Uint64
}

func NewBuilder() *Builder {
	return &Builder{}
}

// New returns a fresh request. A nil params map is sent as {}.
func (b *Builder) New(method string, params map[string]any) *Request {
	if params == nil {
		params = map[string]any{}
	}
	return &Request{
		JSONRPC: Version,
		ID:      b.seq.Add(1),
		Method:  method,
		Params:  params,
	}
}

// Decode parses a raw reply. Anything other than a JSON object is rejected.
func Decode(raw []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("response is not a JSON object")
	}
	var resp Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	resp.raw = append(json.RawMessage(nil), trimmed...)
	return &resp, nil
}

// Raw returns the reply bytes as received, or nil for a Response not built by Decode.
func (r *Response) Raw() json.RawMessage {
	return r.raw
}

// HasResult reports whether a non-null result is present.
func (r *Response) HasResult() bool {
	return present(r.Result)
}

// Field walks nested object keys under result, e.g. Field("order", "order_id").
// With no path it returns the result itself.
func (r *Response) Field(path ...string) (json.RawMessage, bool) {
	return Lookup(r.Result, path...)
}

// Lookup walks nested object keys in raw. Null values count as absent.
func Lookup(raw json.RawMessage, path ...string) (json.RawMessage, bool) {
	cur := raw
	for _, key := range path {
		if !present(cur) {
			return nil, false
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(cur, &obj); err != nil {
			return nil, false
		}
		next, ok := obj[key]
		if !ok {
			return nil, false
		}
		cur = next
	}
	if !present(cur) {
		return nil, false
	}
	return cur, true
}

// String looks up a string value under result.
func (r *Response) String(path ...string) (string, bool) {
	raw, ok := r.Field(path...)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
