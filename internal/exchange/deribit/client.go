package deribit

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"deribit-client/internal/config"
	"deribit-client/internal/exchange"
	"deribit-client/internal/jsonrpc"
	"deribit-client/internal/logger"
	"deribit-client/internal/transport"
)

const (
	methodBuy           = "private/buy"
	methodSell          = "private/sell"
	methodCancel        = "private/cancel"
	methodEdit          = "private/edit"
	methodOrderState    = "private/get_order_state"
	methodPositions     = "private/get_positions"
	methodOrderBook     = "public/get_order_book"
	defaultOrderBookLvl = 10
)

// Client is the synchronous request/response surface of the exchange.
// Calls are independent; the only shared state is the session token.
type Client struct {
	cfg       config.DeribitConfig
	transport transport.Transport
	builder   *jsonrpc.Builder
	session   *Session
	log       *logrus.Entry
}

var _ exchange.Exchange = (*Client)(nil)

type Option func(*Client)

// WithTransport replaces the default HTTPS transport.
func WithTransport(t transport.Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

func NewClient(cfg config.DeribitConfig, opts ...Option) *Client {
	if cfg.Depth < 1 {
		cfg.Depth = defaultOrderBookLvl
	}

	c := &Client{
		cfg:     cfg,
		builder: jsonrpc.NewBuilder(),
		log:     logger.WithComponent("deribit"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = transport.NewHTTPTransport(cfg.Timeout())
	}

	c.session = NewSession(
		Credentials{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret},
		cfg.Scope,
		cfg.BaseURL,
		c.transport,
		c.builder,
	)
	return c
}

func (c *Client) Session() *Session {
	return c.session
}

// Authenticate is a shorthand for Session().Authenticate.
func (c *Client) Authenticate(ctx context.Context) (*Token, error) {
	return c.session.Authenticate(ctx)
}

// call dispatches one request. Private calls attach the session token and
// fail with ErrUnauthenticated before any I/O when there is none.
func (c *Client) call(ctx context.Context, method string, params map[string]any, private bool) (*jsonrpc.Response, error) {
	token := ""
	if private {
		token = c.session.Token()
		if token == "" {
			return nil, errors.Wrap(exchange.ErrUnauthenticated, method)
		}
	}

	req := c.builder.New(method, params)
	resp, err := c.transport.Execute(ctx, endpoint(c.cfg.BaseURL, method), req, token)
	if err != nil {
		return nil, errors.Wrap(err, method)
	}
	if resp.Error != nil {
		c.log.WithFields(logrus.Fields{
			"method": method,
			"code":   resp.Error.Code,
		}).Warn(resp.Error.Message)
		return nil, &exchange.ServiceError{Method: method, RPC: resp.Error}
	}
	return resp, nil
}

// requireResult rejects replies without a result.
func requireResult(method string, resp *jsonrpc.Response) error {
	if resp.HasResult() {
		return nil
	}
	return &exchange.ShapeError{Method: method, Missing: []string{"result"}, Payload: payloadOf(resp)}
}

func endpoint(baseURL, method string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + method
}

// payloadOf returns the reply body for diagnostics, re-encoding only when
// the response was not decoded from the wire.
func payloadOf(resp *jsonrpc.Response) json.RawMessage {
	if raw := resp.Raw(); raw != nil {
		return raw
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil
	}
	return raw
}
