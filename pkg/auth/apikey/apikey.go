// Package apikey authenticates service clients (vibectl, CI jobs) with
// static API keys. Keys are hashed with SHA-256 at load time and compared in
// constant time.
//
// Only bearer tokens starting with the configured prefix are claimed, so the
// authenticator can share a chain with the session-token authenticator.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"maps"
	"net/http"
	"strings"

	"github.com/rhuss/vibe/pkg/auth"
)

// DefaultPrefix marks vibe API keys.
const DefaultPrefix = "vk_"

// RawKeyEntry is the configuration format for API keys.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

type keyEntry struct {
	hash     [32]byte
	identity auth.Identity
}

// Authenticator validates prefixed bearer tokens against a static key store.
type Authenticator struct {
	prefix string
	keys   []keyEntry
}

// New creates an API key authenticator. Every key must carry prefix
// (DefaultPrefix when empty) and name a subject. Plaintext keys are not kept.
func New(prefix string, entries []RawKeyEntry) (*Authenticator, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	a := &Authenticator{prefix: prefix}
	for i, e := range entries {
		if !strings.HasPrefix(e.Key, prefix) || len(e.Key) == len(prefix) {
			return nil, fmt.Errorf("api key %d: must start with %q", i, prefix)
		}
		if e.Identity.Subject == "" {
			return nil, fmt.Errorf("api key %d: subject is required", i)
		}
		a.keys = append(a.keys, keyEntry{
			hash:     sha256.Sum256([]byte(e.Key)),
			identity: e.Identity,
		})
	}
	return a, nil
}

// Authenticate returns Abstain unless the request carries a bearer token
// with the key prefix; a prefixed token that matches no key is No.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || !strings.HasPrefix(token, a.prefix) {
		return auth.AuthResult{Decision: auth.Abstain}
	}

	tokenHash := sha256.Sum256([]byte(token))
	for _, entry := range a.keys {
		if subtle.ConstantTimeCompare(tokenHash[:], entry.hash[:]) == 1 {
			id := entry.identity
			if id.Metadata != nil {
				id.Metadata = maps.Clone(id.Metadata)
			}
			return auth.AuthResult{Decision: auth.Yes, Identity: &id}
		}
	}
	return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
}
