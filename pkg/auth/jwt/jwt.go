// Package jwt authenticates session tokens issued by the external identity
// provider. Tokens are RS256/384/512 JWTs verified against the provider's
// JWKS endpoint and accepted from the Authorization header or the session
// cookie set by the provider's browser SDK.
package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/vibe/pkg/auth"
	"github.com/rhuss/vibe/pkg/debug"
)

// DefaultSessionCookie is the cookie holding the session token.
const DefaultSessionCookie = "__session"

// Config holds the JWT authenticator configuration.
type Config struct {
	// Issuer is the expected iss claim. Empty disables the check.
	Issuer string

	// Audience is the expected aud claim. Empty disables the check.
	Audience string

	// AuthorizedParties lists accepted azp claims (the origins allowed to
	// mint session tokens). Empty disables the check.
	AuthorizedParties []string

	// JWKSURL serves the signing keys.
	JWKSURL string

	// UserClaim becomes the identity subject and project owner. Default: "sub".
	UserClaim string

	// OrgClaim is copied to the "org_id" identity metadata. Default: "org_id".
	OrgClaim string

	// ScopesClaim holds authorization scopes, as a space-separated string or
	// an array. Default: "scope".
	ScopesClaim string

	// SessionCookie is read when no Authorization header is present.
	// Default: DefaultSessionCookie. Set to "-" to ignore cookies.
	SessionCookie string

	// Leeway tolerates clock skew on exp/nbf/iat. Default: 5s.
	Leeway time.Duration

	// CacheTTL controls how long JWKS keys are cached. Default: 1 hour.
	CacheTTL time.Duration

	// MinRefreshInterval throttles JWKS refetches triggered by unknown key
	// IDs. Default: 1 minute.
	MinRefreshInterval time.Duration

	// HTTPClient fetches the JWKS. Default: http.DefaultClient.
	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.OrgClaim == "" {
		c.OrgClaim = "org_id"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.SessionCookie == "" {
		c.SessionCookie = DefaultSessionCookie
	}
	if c.Leeway == 0 {
		c.Leeway = 5 * time.Second
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.MinRefreshInterval == 0 {
		c.MinRefreshInterval = time.Minute
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Authenticator validates session tokens against a JWKS endpoint.
type Authenticator struct {
	config Config
	keys   *keySet
}

// New creates a JWT authenticator.
func New(cfg Config) *Authenticator {
	cfg.applyDefaults()
	return &Authenticator{
		config: cfg,
		keys: &keySet{
			url:        cfg.JWKSURL,
			client:     cfg.HTTPClient,
			ttl:        cfg.CacheTTL,
			minRefresh: cfg.MinRefreshInterval,
			keys:       make(map[string]*rsa.PublicKey),
		},
	}
}

// Authenticate returns Abstain when the request carries no token, No when
// the token fails verification and Yes with the caller's identity otherwise.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.AuthResult {
	tokenStr, found := a.token(r)
	if !found {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if tokenStr == "" {
		return auth.AuthResult{Decision: auth.No, Err: errors.New("empty bearer token")}
	}

	token, err := jwtlib.Parse(tokenStr, func(token *jwtlib.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token missing kid header")
		}
		return a.keys.get(ctx, kid)
	}, a.parserOptions()...)
	if err != nil {
		debug.Log("auth", "JWT validation failed", "error", err)
		return auth.AuthResult{Decision: auth.No, Err: fmt.Errorf("invalid JWT: %w", err)}
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return auth.AuthResult{Decision: auth.No, Err: errors.New("invalid JWT claims")}
	}

	if len(a.config.AuthorizedParties) > 0 {
		azp := claimString(claims, "azp")
		if !slices.Contains(a.config.AuthorizedParties, azp) {
			return auth.AuthResult{Decision: auth.No, Err: fmt.Errorf("unauthorized party %q", azp)}
		}
	}

	subject := claimString(claims, a.config.UserClaim)
	if subject == "" {
		return auth.AuthResult{Decision: auth.No, Err: fmt.Errorf("JWT missing %q claim", a.config.UserClaim)}
	}

	identity := &auth.Identity{
		Subject:  subject,
		Scopes:   extractScopes(claims, a.config.ScopesClaim),
		Metadata: make(map[string]string),
	}
	if org := claimString(claims, a.config.OrgClaim); org != "" {
		identity.Metadata["org_id"] = org
	}
	return auth.AuthResult{Decision: auth.Yes, Identity: identity}
}

// token returns the raw token and whether the request carried one at all.
// A non-Bearer Authorization header is left to other authenticators.
func (a *Authenticator) token(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return "", false
		}
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")), true
	}
	if a.config.SessionCookie == "-" {
		return "", false
	}
	if c, err := r.Cookie(a.config.SessionCookie); err == nil {
		return c.Value, true
	}
	return "", false
}

func (a *Authenticator) parserOptions() []jwtlib.ParserOption {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwtlib.WithLeeway(a.config.Leeway),
		jwtlib.WithExpirationRequired(),
	}
	if a.config.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.config.Issuer))
	}
	if a.config.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(a.config.Audience))
	}
	return opts
}

func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

func extractScopes(claims jwtlib.MapClaims, key string) []string {
	switch v := claims[key].(type) {
	case string:
		if parts := strings.Fields(v); len(parts) > 0 {
			return parts
		}
	case []any:
		var scopes []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
		return scopes
	}
	return nil
}

// keySet caches RSA signing keys from a JWKS endpoint. Unknown key IDs
// trigger a refetch at most once per minRefresh, so rotated keys are picked
// up without letting forged kids hammer the endpoint.
type keySet struct {
	url        string
	client     *http.Client
	ttl        time.Duration
	minRefresh time.Duration

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func (s *keySet) get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.RLock()
	key, ok := s.keys[kid]
	fresh := time.Since(s.fetchedAt) < s.ttl
	s.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok = s.keys[kid]
	age := time.Since(s.fetchedAt)
	switch {
	case ok && age < s.ttl:
		return key, nil
	case !ok && !s.fetchedAt.IsZero() && age < s.minRefresh:
		return nil, fmt.Errorf("key %q not found in JWKS", kid)
	}

	if err := s.fetch(ctx); err != nil {
		if ok {
			// Serve the stale key while the endpoint is unavailable.
			slog.Warn("JWKS refresh failed, using cached key", "kid", kid, "error", err)
			return key, nil
		}
		return nil, err
	}
	if key, ok = s.keys[kid]; !ok {
		return nil, fmt.Errorf("key %q not found in JWKS", kid)
	}
	return key, nil
}

// fetch replaces the cached keys. Callers must hold s.mu.
func (s *keySet) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("creating JWKS request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("parsing JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.rsaPublicKey()
		if err != nil {
			slog.Warn("skipping JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	s.keys = keys
	s.fetchedAt = time.Now()
	debug.Log("auth", "JWKS refreshed", "keys", len(keys), "url", s.url)
	return nil
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k jwk) rsaPublicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() {
		return nil, errors.New("RSA exponent too large")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
