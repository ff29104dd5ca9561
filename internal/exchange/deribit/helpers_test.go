package deribit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"deribit-client/internal/config"
	"deribit-client/internal/jsonrpc"
)

func testConfig(baseURL string) config.DeribitConfig {
	return config.DeribitConfig{
		BaseURL:      baseURL,
		ClientID:     "client",
		ClientSecret: "secret",
		Scope:        "trade:read_write",
		Currency:     "BTC",
		Instrument:   "BTC-PERPETUAL",
		Depth:        10,
		TimeoutMs:    2000,
	}
}

type recorded struct {
	url   string
	token string
	req   jsonrpc.Request
}

// mockTransport round-trips every request through its wire encoding and
// replies from a queue; the last reply repeats.
type mockTransport struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   []recorded
}

func newMock(replies ...string) *mockTransport {
	return &mockTransport{replies: replies}
}

func (m *mockTransport) Execute(_ context.Context, url string, req *jsonrpc.Request, token string) (*jsonrpc.Response, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var back jsonrpc.Request
	if err := json.Unmarshal(raw, &back); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, recorded{url: url, token: token, req: back})
	if m.err != nil {
		return nil, m.err
	}
	reply := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return jsonrpc.Decode([]byte(reply))
}

func (m *mockTransport) last() recorded {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[len(m.calls)-1]
}

func (m *mockTransport) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// authedClient returns a client over a mock transport with a token installed.
func authedClient(replies ...string) (*Client, *mockTransport) {
	mock := newMock(replies...)
	c := NewClient(testConfig("https://test.invalid/api/v2"), WithTransport(mock))
	c.Session().SetToken("tok123")
	return c, mock
}

type seenRequest struct {
	path   string
	auth   string
	ctype  string
	method string
	params map[string]any
}

// stubService serves fixed replies per URL path and records what it saw.
type stubService struct {
	*httptest.Server
	mu   sync.Mutex
	seen []seenRequest
}

func newStubService(t *testing.T, routes map[string]string) *stubService {
	t.Helper()
	s := &stubService{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req jsonrpc.Request
		_ = json.Unmarshal(body, &req)

		s.mu.Lock()
		s.seen = append(s.seen, seenRequest{
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			ctype:  r.Header.Get("Content-Type"),
			method: req.Method,
			params: req.Params,
		})
		s.mu.Unlock()

		reply, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *stubService) last() seenRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[len(s.seen)-1]
}
