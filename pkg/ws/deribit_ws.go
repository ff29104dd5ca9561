package ws

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"deribit-client/internal/config"
	"deribit-client/internal/jsonrpc"
	"deribit-client/internal/logger"
)

const (
	writeTimeout    = 5 * time.Second
	closeWaitPeriod = 5 * time.Second
	minHeartbeat    = 10 * time.Second
)

var (
	// ErrStreamClosed ends a stream that was closed locally.
	ErrStreamClosed = errors.New("stream closed")
	// ErrDecode ends a stream that received a malformed frame.
	ErrDecode       = errors.New("malformed frame")
	ErrNotConnected = errors.New("websocket not connected")
)

// ConnectError reports a failed dial or handshake. No retry is attempted.
type ConnectError struct {
	Stage  string // dial or handshake
	URL    string
	Status int
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("websocket %s %s failed (status %d): %v", e.Stage, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("websocket %s %s failed: %v", e.Stage, e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// StreamError is the terminal value of a message stream.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string { return "stream ended: " + e.Err.Error() }

func (e *StreamError) Unwrap() error { return e.Err }

type Config struct {
	Scheme           string // ws or wss
	HandshakeTimeout time.Duration
	// Heartbeat enables server heartbeats; zero disables them.
	Heartbeat      time.Duration
	BookInterval   string
	OrdersInterval string
}

func ConfigFrom(c config.StreamConfig) Config {
	return Config{
		Scheme:           c.Scheme,
		HandshakeTimeout: c.HandshakeTimeout(),
		Heartbeat:        c.Heartbeat(),
		BookInterval:     c.BookInterval,
		OrdersInterval:   c.OrdersInterval,
	}
}

// DeribitWSClient owns one WebSocket connection. A single goroutine reads
// frames; writes are serialized. The stream cannot be restarted in place:
// after it ends, create a new client and Connect again.
type DeribitWSClient struct {
	cfg     Config
	conn    *websocket.Conn
	builder *jsonrpc.Builder
	log     *logrus.Entry

	writeMu   sync.Mutex
	messages  chan Message
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func NewDeribitWSClient(cfg Config) *DeribitWSClient {
	if cfg.Scheme == "" {
		cfg.Scheme = "wss"
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.BookInterval == "" {
		cfg.BookInterval = "100ms"
	}
	if cfg.OrdersInterval == "" {
		cfg.OrdersInterval = "raw"
	}
	return &DeribitWSClient{
		cfg:      cfg,
		builder:  jsonrpc.NewBuilder(),
		log:      logger.WithComponent("ws"),
		messages: make(chan Message),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Connect dials host:port and performs the WebSocket handshake, then starts
// the receive loop. Cancelling ctx later closes the stream. A client that
// was already closed refuses to connect.
func (c *DeribitWSClient) Connect(ctx context.Context, host, port, path string) error {
	u := url.URL{Scheme: c.cfg.Scheme, Host: net.JoinHostPort(host, port), Path: path}
	target := u.String()

	c.mu.Lock()
	switch {
	case c.closed():
		c.mu.Unlock()
		return &ConnectError{Stage: "dial", URL: target, Err: ErrStreamClosed}
	case c.conn != nil:
		c.mu.Unlock()
		return errors.New("websocket already connected")
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		cerr := &ConnectError{Stage: "dial", URL: target, Err: err}
		if resp != nil {
			cerr.Stage = "handshake"
			cerr.Status = resp.StatusCode
		}
		return cerr
	}

	// Close may have run while the handshake was in flight.
	c.mu.Lock()
	switch {
	case c.closed():
		c.mu.Unlock()
		conn.Close()
		return &ConnectError{Stage: "handshake", URL: target, Err: ErrStreamClosed}
	case c.conn != nil:
		c.mu.Unlock()
		conn.Close()
		return errors.New("websocket already connected")
	}
	c.conn = conn
	c.log = c.log.WithField("url", target)
	c.mu.Unlock()
	c.log.Info("websocket connected")

	go c.readLoop(conn)
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				c.Close()
			case <-c.doneCh:
			}
		}()
	}

	if c.cfg.Heartbeat > 0 {
		interval := c.cfg.Heartbeat
		if interval < minHeartbeat {
			interval = minHeartbeat
		}
		if err := c.send("public/set_heartbeat", map[string]any{"interval": int(interval / time.Second)}); err != nil {
			c.Close()
			return &ConnectError{Stage: "handshake", URL: target, Err: err}
		}
	}
	return nil
}

// Subscribe sends one subscribe request. The acknowledgement arrives on
// Messages as a reply and is not awaited.
func (c *DeribitWSClient) Subscribe(method string, channels []string, extra map[string]any) error {
	params := map[string]any{"channels": channels}
	for k, v := range extra {
		params[k] = v
	}
	if err := c.send(method, params); err != nil {
		return err
	}
	c.log.WithField("channels", channels).Info("subscribed")
	return nil
}

// SubscribeOrderBook subscribes to book.<instrument>.<interval>.
func (c *DeribitWSClient) SubscribeOrderBook(instrument string) error {
	return c.Subscribe("public/subscribe", []string{BookChannel(instrument, c.cfg.BookInterval)}, nil)
}

// SubscribeOrderUpdates subscribes to the private user.orders channel,
// authorising the request with token.
func (c *DeribitWSClient) SubscribeOrderUpdates(instrument, token string) error {
	var extra map[string]any
	if token != "" {
		extra = map[string]any{"access_token": token}
	}
	return c.Subscribe("private/subscribe", []string{OrderChannel(instrument, c.cfg.OrdersInterval)}, extra)
}

func (c *DeribitWSClient) Unsubscribe(private bool, channels ...string) error {
	method := "public/unsubscribe"
	if private {
		method = "private/unsubscribe"
	}
	return c.send(method, map[string]any{"channels": channels})
}

// Messages is the decoded frame sequence. It is closed when the stream
// ends; Err then reports why.
func (c *DeribitWSClient) Messages() <-chan Message {
	return c.messages
}

// Err returns the terminal *StreamError once Messages is closed.
func (c *DeribitWSClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the receive loop has exited.
func (c *DeribitWSClient) Done() <-chan struct{} {
	return c.doneCh
}

func (c *DeribitWSClient) connection() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *DeribitWSClient) closed() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *DeribitWSClient) send(method string, params map[string]any) error {
	conn := c.connection()
	if conn == nil {
		return ErrNotConnected
	}
	req := c.builder.New(method, params)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	return errors.Wrap(conn.WriteJSON(req), method)
}

func (c *DeribitWSClient) readLoop(conn *websocket.Conn) {
	defer close(c.doneCh)
	defer close(c.messages)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}

		msg, heartbeat, err := decodeMessage(data)
		if err != nil {
			c.log.WithError(err).WithField("frame", string(data)).Error("malformed frame")
			c.finish(errors.Wrap(ErrDecode, err.Error()))
			conn.Close()
			return
		}

		switch heartbeat {
		case "test_request":
			if err := c.send("public/test", nil); err != nil {
				c.log.WithError(err).Warn("heartbeat reply failed")
			}
			continue
		case "":
		default:
			continue
		}

		// nothing is delivered once Close has been called
		if c.closed() {
			c.finish(ErrStreamClosed)
			return
		}
		select {
		case c.messages <- msg:
		case <-c.stopCh:
			c.finish(ErrStreamClosed)
			return
		}
	}
}

// finish records the terminal error. A local Close takes precedence over
// the read error it provokes.
func (c *DeribitWSClient) finish(err error) {
	select {
	case <-c.stopCh:
		err = ErrStreamClosed
	default:
	}

	c.mu.Lock()
	if c.err == nil {
		c.err = &StreamError{Err: err}
	}
	c.mu.Unlock()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, ErrStreamClosed) {
		c.log.WithError(err).Info("stream ended")
	} else {
		c.log.WithError(err).Warn("stream ended")
	}
}

// Close shuts the connection down, which unblocks the pending read and ends
// the stream with ErrStreamClosed. Safe to call more than once, and before
// Connect, in which case the stream ends immediately.
func (c *DeribitWSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.stopCh)
		conn := c.conn
		if conn == nil {
			c.err = &StreamError{Err: ErrStreamClosed}
			close(c.messages)
			close(c.doneCh)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		c.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = conn.Close()
		c.writeMu.Unlock()

		select {
		case <-c.doneCh:
		case <-time.After(closeWaitPeriod):
			c.log.Warn("timeout waiting for receive loop")
		}
	})
	return err
}
