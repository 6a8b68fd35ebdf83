package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type tokenServer struct {
	*httptest.Server
	calls     atomic.Int32
	failing   atomic.Bool
	lastScope atomic.Value
}

func newTokenServer(t *testing.T, expiresIn int) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)
		if err := r.ParseForm(); err != nil || r.FormValue("grant_type") != "client_credentials" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if r.FormValue("client_secret") != "s3cret" {
			http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
			return
		}
		ts.lastScope.Store(r.FormValue("scope"))
		if ts.failing.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + string(rune('0'+n)),
			"token_type":   "bearer",
			"expires_in":   expiresIn,
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

// clock is a settable time source.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newAuth(ts *tokenServer, secret string, scopes []string) (*OAuthClientCredentials, *clock) {
	a := NewOAuthClientCredentials(ts.URL, "vibe", secret, scopes)
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	a.now = c.now
	return a, c
}

func authHeader(t *testing.T, a *OAuthClientCredentials) string {
	t.Helper()
	h, err := a.GetHeaders(context.Background())
	if err != nil {
		t.Fatalf("GetHeaders: %v", err)
	}
	return h["Authorization"]
}

func TestOAuthTokenLifecycle(t *testing.T) {
	ts := newTokenServer(t, 100)
	a, clk := newAuth(ts, "s3cret", nil)

	if got := authHeader(t, a); got != "Bearer tok-1" {
		t.Fatalf("first header = %q", got)
	}

	clk.advance(79 * time.Second)
	if got := authHeader(t, a); got != "Bearer tok-1" {
		t.Errorf("before refresh point: %q", got)
	}
	if n := ts.calls.Load(); n != 1 {
		t.Errorf("token requests = %d, want 1", n)
	}

	clk.advance(time.Second)
	if got := authHeader(t, a); got != "Bearer tok-2" {
		t.Errorf("after refresh point: %q", got)
	}
}

func TestOAuthRefreshFailure(t *testing.T) {
	ts := newTokenServer(t, 100)
	a, clk := newAuth(ts, "s3cret", nil)
	authHeader(t, a)

	ts.failing.Store(true)
	clk.advance(90 * time.Second)
	if got := authHeader(t, a); got != "Bearer tok-1" {
		t.Errorf("refresh failed before expiry: %q, want cached token", got)
	}

	clk.advance(20 * time.Second)
	if _, err := a.GetHeaders(context.Background()); err == nil {
		t.Error("expected error once the cached token expired")
	}
}

func TestOAuthInvalidCredentials(t *testing.T) {
	ts := newTokenServer(t, 100)
	a, _ := newAuth(ts, "wrong", nil)
	if _, err := a.GetHeaders(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestOAuthScopes(t *testing.T) {
	tests := []struct {
		name   string
		scopes []string
		want   string
	}{
		{"joined", []string{"tools:read", "tools:call"}, "tools:read tools:call"},
		{"omitted", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t, 100)
			a, _ := newAuth(ts, "s3cret", tt.scopes)
			authHeader(t, a)
			if got, _ := ts.lastScope.Load().(string); got != tt.want {
				t.Errorf("scope = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOAuthConcurrentCallersShareToken(t *testing.T) {
	ts := newTokenServer(t, 3600)
	a, _ := newAuth(ts, "s3cret", nil)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.GetHeaders(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if n := ts.calls.Load(); n != 1 {
		t.Errorf("token requests = %d, want 1", n)
	}
}
