package deribit

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"deribit-client/internal/exchange"
	"deribit-client/internal/jsonrpc"
	"deribit-client/internal/logger"
	"deribit-client/internal/transport"
)

const methodAuth = "public/auth"

type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Token is the decoded public/auth result.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// Session owns the bearer token. It never refreshes on its own: callers
// re-authenticate when a private call reports an authorization error.
type Session struct {
	creds     Credentials
	scope     string
	url       string
	transport transport.Transport
	builder   *jsonrpc.Builder
	log       *logrus.Entry

	mu    sync.RWMutex
	token string
}

func NewSession(creds Credentials, scope, baseURL string, t transport.Transport, b *jsonrpc.Builder) *Session {
	return &Session{
		creds:     creds,
		scope:     scope,
		url:       endpoint(baseURL, methodAuth),
		transport: t,
		builder:   b,
		log:       logger.WithComponent("session"),
	}
}

// Authenticate exchanges the client credentials for an access token and
// stores it. On failure the previously stored token is left untouched.
func (s *Session) Authenticate(ctx context.Context) (*Token, error) {
	req := s.builder.New(methodAuth, map[string]any{
		"grant_type":    "client_credentials",
		"client_id":     s.creds.ClientID,
		"client_secret": s.creds.ClientSecret,
		"scope":         s.scope,
	})

	resp, err := s.transport.Execute(ctx, s.url, req, "")
	if err != nil {
		s.log.WithError(err).Warn("authentication transport failure")
		return nil, &exchange.AuthError{Reason: exchange.AuthTransport, Err: err}
	}

	if resp.Error != nil {
		s.log.WithField("code", resp.Error.Code).Warn("authentication rejected")
		return nil, &exchange.AuthError{
			Reason: exchange.AuthRejected,
			Err:    &exchange.ServiceError{Method: methodAuth, RPC: resp.Error},
		}
	}

	var tok Token
	if resp.HasResult() {
		// a result that is not an object leaves tok empty and is rejected below
		_ = json.Unmarshal(resp.Result, &tok)
	}
	if tok.AccessToken == "" {
		return nil, &exchange.AuthError{
			Reason: exchange.AuthRejected,
			Err: &exchange.ShapeError{
				Method:  methodAuth,
				Missing: []string{"result.access_token"},
				Payload: payloadOf(resp),
			},
		}
	}

	s.SetToken(tok.AccessToken)
	s.log.WithFields(logrus.Fields{
		"token":      logger.Mask(tok.AccessToken),
		"expires_in": tok.ExpiresIn,
		"scope":      tok.Scope,
	}).Info("authenticated")
	return &tok, nil
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken installs a token obtained elsewhere.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

// Clear drops the token locally; the service is not notified.
func (s *Session) Clear() {
	s.SetToken("")
}
