// Package noop provides an authenticator that accepts every request as the
// anonymous user. Used for local development.
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/vibe/pkg/auth"
)

// Authenticator always returns Yes with the anonymous identity.
type Authenticator struct{}

func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.AuthResult {
	return auth.AuthResult{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject:     auth.AnonymousSubject,
			ServiceTier: "default",
		},
	}
}
