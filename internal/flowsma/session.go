package flowsma

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/flowsma/record-importer/internal/config"
	"github.com/flowsma/record-importer/internal/pkg/logger"
)

// Session owns the bearer token for one import run. It tracks the
// token's expiry and reports when the remaining lifetime has dropped
// below the refresh threshold, so callers can renew before the server
// starts rejecting requests.
type Session struct {
	client *Client
	cfg    config.APIConfig

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewSession creates a Session bound to a client and credentials.
func NewSession(client *Client, cfg config.APIConfig) *Session {
	return &Session{client: client, cfg: cfg}
}

// Login acquires a token. When force is false and a non-expiring token
// is already held, the call is a no-op.
func (s *Session) Login(ctx context.Context, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !force && s.token != "" && !s.expiringLocked() {
		return nil
	}

	resp, err := s.client.Login(ctx, s.cfg.Username, s.cfg.Password)
	if err != nil {
		s.token = ""
		s.expiresAt = time.Time{}
		var reqErr *RequestError
		if errors.As(err, &reqErr) && (reqErr.Status == http.StatusUnauthorized || reqErr.Status == http.StatusForbidden) {
			return &AuthError{Status: reqErr.Status, Body: reqErr.Body}
		}
		return err
	}

	lifetime := s.cfg.TokenLifetime()
	if resp.ExpiresIn > 0 {
		lifetime = time.Duration(resp.ExpiresIn) * time.Second
	}

	s.token = resp.Token
	s.expiresAt = time.Now().Add(lifetime)
	logger.Info("session established",
		"token", resp.Token,
		"expires_at", s.expiresAt.Format(time.RFC3339))
	return nil
}

// Renew forces a fresh login. It satisfies the retry executor's
// renewal hook.
func (s *Session) Renew(ctx context.Context) error {
	return s.Login(ctx, true)
}

// Token returns the current bearer token, or "" when logged out.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// IsExpiring reports whether the token is absent or inside the refresh
// threshold window.
func (s *Session) IsExpiring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiringLocked()
}

func (s *Session) expiringLocked() bool {
	if s.token == "" {
		return true
	}
	return time.Until(s.expiresAt) < s.cfg.RefreshThreshold()
}

// Clear drops the held token.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}
