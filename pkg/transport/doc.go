// Package transport defines the service interfaces the HTTP API is built on,
// the error envelope, and the HTTP middleware shared by all routes: panic
// recovery, request IDs (X-Request-ID) and access logging via log/slog.
//
// The routes themselves live in pkg/transport/http.
package transport
