package flowsma

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/flowsma/record-importer/internal/config"
)

func sessionFixture(t *testing.T, expiresIn int) (*Session, *int32, *httptest.Server) {
	t.Helper()
	var logins int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&logins, 1)
		json.NewEncoder(w).Encode(LoginResponse{Token: "tok-abc", ExpiresIn: expiresIn})
	}))

	cfg := config.APIConfig{
		BaseURL:                 srv.URL,
		Username:                "admin",
		Password:                "s3cret",
		TimeoutSeconds:          5,
		TokenLifetimeSeconds:    3600,
		RefreshThresholdSeconds: 1200,
	}
	return NewSession(NewClient(cfg), cfg), &logins, srv
}

func TestSessionLogin(t *testing.T) {
	s, logins, srv := sessionFixture(t, 3600)
	defer srv.Close()

	if s.Token() != "" {
		t.Error("fresh session should hold no token")
	}
	if !s.IsExpiring() {
		t.Error("fresh session should report expiring")
	}

	if err := s.Login(context.Background(), false); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if s.Token() != "tok-abc" {
		t.Errorf("expected tok-abc, got %s", s.Token())
	}
	if s.IsExpiring() {
		t.Error("fresh token should not be expiring")
	}

	// Second non-forced login reuses the token
	if err := s.Login(context.Background(), false); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if got := atomic.LoadInt32(logins); got != 1 {
		t.Errorf("expected 1 login call, got %d", got)
	}

	// Forced login always hits the server
	if err := s.Login(context.Background(), true); err != nil {
		t.Fatalf("forced Login failed: %v", err)
	}
	if got := atomic.LoadInt32(logins); got != 2 {
		t.Errorf("expected 2 login calls, got %d", got)
	}
}

func TestSessionExpiringWithinThreshold(t *testing.T) {
	// Server grants 600s but the refresh threshold is 1200s, so the
	// token is born expiring
	s, _, srv := sessionFixture(t, 600)
	defer srv.Close()

	if err := s.Login(context.Background(), false); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !s.IsExpiring() {
		t.Error("token inside refresh threshold should report expiring")
	}
}

func TestSessionClear(t *testing.T) {
	s, _, srv := sessionFixture(t, 3600)
	defer srv.Close()

	if err := s.Login(context.Background(), false); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	s.Clear()
	if s.Token() != "" {
		t.Error("Clear should drop the token")
	}
	if !s.IsExpiring() {
		t.Error("cleared session should report expiring")
	}
}

func TestSessionLoginFailureClearsToken(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(LoginResponse{Token: "tok-abc", ExpiresIn: 3600})
	}))
	defer srv.Close()

	cfg := config.APIConfig{BaseURL: srv.URL, Username: "a", Password: "b", TimeoutSeconds: 5, TokenLifetimeSeconds: 3600}
	s := NewSession(NewClient(cfg), cfg)

	if err := s.Login(context.Background(), false); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	fail.Store(true)
	err := s.Renew(context.Background())
	if err == nil {
		t.Fatal("expected renewal to fail")
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %T", err)
	}
	if authErr.Status != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", authErr.Status)
	}
	if s.Token() != "" {
		t.Error("failed renewal should clear the stale token")
	}
}
