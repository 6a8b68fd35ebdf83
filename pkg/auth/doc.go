// Package auth identifies the caller of the HTTP API.
//
// Authenticators vote in a chain: Yes (identity found), No (credentials
// present but invalid) or Abstain (credentials of another kind). The first
// Yes or No wins; when all abstain the chain's default decision applies.
//
// The middleware stores the identity in the request context and sets the
// identity's subject as the storage owner, so every project the request
// creates or reads is scoped to the signed-in user.
package auth
