package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// AuthProvider supplies per-request authentication headers.
type AuthProvider interface {
	GetHeaders(ctx context.Context) (map[string]string, error)
}

// OAuthClientCredentials obtains bearer tokens with the OAuth 2.0
// client_credentials grant. A token is reused until 80% of its lifetime has
// passed; if the refresh then fails, the old token is used until it expires.
type OAuthClientCredentials struct {
	tokenURL     string
	clientID     string
	clientSecret string
	scopes       []string
	httpClient   *http.Client
	now          func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	refreshAt time.Time
}

// NewOAuthClientCredentials creates a token source for one MCP server.
func NewOAuthClientCredentials(tokenURL, clientID, clientSecret string, scopes []string) *OAuthClientCredentials {
	return &OAuthClientCredentials{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		scopes:       scopes,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
	}
}

// GetHeaders returns the Authorization header.
func (a *OAuthClientCredentials) GetHeaders(ctx context.Context) (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.token == "" || !now.Before(a.refreshAt) {
		token, lifetime, err := a.fetch(ctx)
		switch {
		case err == nil:
			a.token = token
			a.expiresAt = now.Add(lifetime)
			a.refreshAt = now.Add(lifetime * 4 / 5)
		case a.token == "" || !now.Before(a.expiresAt):
			return nil, fmt.Errorf("acquiring OAuth token: %w", err)
		}
	}
	return map[string]string{"Authorization": "Bearer " + a.token}, nil
}

func (a *OAuthClientCredentials) fetch(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {a.clientID},
		"client_secret": {a.clientSecret},
	}
	if len(a.scopes) > 0 {
		form.Set("scope", strings.Join(a.scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("parsing token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, errors.New("token response missing access_token")
	}
	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}
