package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"deribit-client/internal/jsonrpc"
	"deribit-client/internal/logger"
)

// Failure kinds. Match with errors.Is against a returned *Error.
var (
	ErrNetwork = errors.New("transport: network failure")
	ErrEmpty   = errors.New("transport: empty response body")
	ErrDecode  = errors.New("transport: malformed response body")
)

// Error describes a failed exchange. Raw is set for ErrDecode.
type Error struct {
	Kind   error
	Method string
	URL    string
	Raw    []byte
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s %s", e.Kind, e.Method, e.URL)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Raw) > 0 {
		msg += fmt.Sprintf(" (raw: %q)", truncate(e.Raw, 256))
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Transport performs one blocking request/response exchange.
// An empty token means no Authorization header.
type Transport interface {
	Execute(ctx context.Context, url string, req *jsonrpc.Request, token string) (*jsonrpc.Response, error)
}

// HTTPTransport posts envelopes over HTTPS. It never retries.
type HTTPTransport struct {
	client *resty.Client
	log    *logrus.Entry
}

var _ Transport = (*HTTPTransport)(nil)

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetLogger(logger.Log).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "deribit-client")

	return &HTTPTransport{
		client: client,
		log:    logger.WithComponent("transport"),
	}
}

func (t *HTTPTransport) Execute(ctx context.Context, url string, req *jsonrpc.Request, token string) (*jsonrpc.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		// params are caller-built maps; only unsupported value types end up here
		return nil, errors.Wrapf(err, "encode %s request", req.Method)
	}

	r := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if token != "" {
		r.SetAuthToken(token)
	}

	start := time.Now()
	resp, err := r.Post(url)
	fields := logrus.Fields{
		"method": req.Method,
		"id":     req.ID,
		"url":    url,
		"auth":   logger.Mask(token),
		"took":   time.Since(start),
	}
	if err != nil {
		t.log.WithFields(fields).WithError(err).Debug("request failed")
		return nil, &Error{Kind: ErrNetwork, Method: req.Method, URL: url, Err: err}
	}

	raw := resp.Body()
	fields["status"] = resp.StatusCode()
	fields["bytes"] = len(raw)
	t.log.WithFields(fields).Debug("request completed")

	if len(raw) == 0 {
		return nil, &Error{Kind: ErrEmpty, Method: req.Method, URL: url}
	}

	decoded, err := jsonrpc.Decode(raw)
	if err != nil {
		return nil, &Error{Kind: ErrDecode, Method: req.Method, URL: url, Raw: raw, Err: err}
	}
	return decoded, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
