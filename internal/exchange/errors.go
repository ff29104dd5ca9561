package exchange

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"deribit-client/internal/jsonrpc"
)

var (
	// ErrInvalidResponseShape marks well-formed replies missing expected keys.
	ErrInvalidResponseShape = errors.New("invalid response shape")
	// ErrUnauthenticated is returned by private calls made without a token.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrInvalidOrder is returned before any I/O for malformed order requests.
	ErrInvalidOrder = errors.New("invalid order request")
)

// ShapeError carries the payload that failed validation.
type ShapeError struct {
	Method  string
	Missing []string
	Payload json.RawMessage
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s missing %s: %s", ErrInvalidResponseShape, e.Method, strings.Join(e.Missing, ", "), e.Payload)
}

func (e *ShapeError) Unwrap() error {
	return ErrInvalidResponseShape
}

// ServiceError is the service's own error payload, passed through as is.
type ServiceError struct {
	Method string
	RPC    *jsonrpc.Error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.RPC.Error())
}

func (e *ServiceError) Unwrap() error {
	return e.RPC
}

// Code is the service error code.
func (e *ServiceError) Code() int {
	return e.RPC.Code
}

type AuthReason int

const (
	AuthRejected AuthReason = iota + 1
	AuthTransport
)

func (r AuthReason) String() string {
	switch r {
	case AuthRejected:
		return "rejected"
	case AuthTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// AuthError reports a failed authentication. Err holds the cause: a
// *ServiceError or *ShapeError when rejected, the transport error otherwise.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "authentication " + e.Reason.String()
	}
	return fmt.Sprintf("authentication %s: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthRejected reports whether err is an AuthError with reason AuthRejected.
func IsAuthRejected(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Reason == AuthRejected
}
