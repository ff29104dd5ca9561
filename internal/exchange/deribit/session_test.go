package deribit

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deribit-client/internal/exchange"
	"deribit-client/internal/transport"
)

func TestAuthenticateReturnsToken(t *testing.T) {
	srv := newStubService(t, map[string]string{
		"/api/v2/public/auth": `{"jsonrpc":"2.0","id":1,"result":{"access_token":"tok123","expires_in":900,"refresh_token":"ref","scope":"trade:read_write","token_type":"bearer"}}`,
	})
	c := NewClient(testConfig(srv.URL + "/api/v2"))

	tok, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok123", tok.AccessToken)
	assert.Equal(t, int64(900), tok.ExpiresIn)
	assert.Equal(t, "tok123", c.Session().Token())
	assert.True(t, c.Session().Authenticated())

	seen := srv.last()
	assert.Equal(t, "public/auth", seen.method)
	assert.Empty(t, seen.auth, "auth endpoint is public")
	assert.Equal(t, "application/json", seen.ctype)
	assert.Equal(t, map[string]any{
		"grant_type":    "client_credentials",
		"client_id":     "client",
		"client_secret": "secret",
		"scope":         "trade:read_write",
	}, seen.params)
}

func TestAuthenticateRejectedByService(t *testing.T) {
	srv := newStubService(t, map[string]string{
		"/public/auth": `{"error":{"message":"invalid_client"}}`,
	})
	c := NewClient(testConfig(srv.URL))

	_, err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, exchange.IsAuthRejected(err))

	var svc *exchange.ServiceError
	require.True(t, errors.As(err, &svc))
	assert.Equal(t, "invalid_client", svc.RPC.Message)
	assert.False(t, c.Session().Authenticated())
}

func TestAuthenticateMissingAccessToken(t *testing.T) {
	for name, reply := range map[string]string{
		"empty result":  `{"result":{}}`,
		"empty token":   `{"result":{"access_token":""}}`,
		"null result":   `{"result":null}`,
		"string result": `{"result":"ok"}`,
		"no keys":       `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := NewClient(testConfig("https://test.invalid"), WithTransport(newMock(reply)))

			_, err := c.Authenticate(context.Background())
			require.Error(t, err)
			assert.True(t, exchange.IsAuthRejected(err))
			assert.True(t, errors.Is(err, exchange.ErrInvalidResponseShape))
		})
	}
}

func TestAuthenticateTransportFailure(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	c := NewClient(testConfig(url))
	_, err := c.Authenticate(context.Background())
	require.Error(t, err)

	var ae *exchange.AuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, exchange.AuthTransport, ae.Reason)
	assert.True(t, errors.Is(err, transport.ErrNetwork))
}

func TestFailedAuthenticateKeepsPreviousToken(t *testing.T) {
	mock := newMock(`{"result":{"access_token":"first"}}`, `{"error":{"code":13004,"message":"invalid_credentials"}}`)
	c := NewClient(testConfig("https://test.invalid"), WithTransport(mock))

	_, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	_, err = c.Authenticate(context.Background())
	require.Error(t, err)

	assert.Equal(t, "first", c.Session().Token())
	assert.Empty(t, mock.last().token, "auth never sends a bearer token")
}

func TestSessionClear(t *testing.T) {
	c := NewClient(testConfig("https://test.invalid"), WithTransport(newMock(`{}`)))
	c.Session().SetToken("abc")
	assert.True(t, c.Session().Authenticated())
	c.Session().Clear()
	assert.False(t, c.Session().Authenticated())
}
