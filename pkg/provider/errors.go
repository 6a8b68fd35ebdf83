package provider

import (
	"fmt"
	"net/http"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/step"
)

// MapStatusError converts a backend HTTP failure into an APIError. Client
// errors other than rate limiting are marked non-retriable, since repeating
// the same request cannot succeed.
func MapStatusError(status int, message string) error {
	switch {
	case status == http.StatusBadRequest:
		if message == "" {
			message = "invalid request to backend"
		}
		return step.NonRetriable(api.NewInvalidRequestError("", message))

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if message == "" {
			message = "backend authentication failed"
		}
		return step.NonRetriable(api.NewServerError(message))

	case status == http.StatusNotFound:
		if message == "" {
			message = "backend resource not found"
		}
		return step.NonRetriable(api.NewNotFoundError(message))

	case status == http.StatusTooManyRequests:
		if message == "" {
			message = "backend rate limit exceeded"
		}
		return api.NewTooManyRequestsError(message)

	case status >= http.StatusInternalServerError:
		if message == "" {
			message = fmt.Sprintf("backend server error (HTTP %d)", status)
		}
		return api.NewServerError(message)

	default:
		if message == "" {
			message = fmt.Sprintf("unexpected backend error (HTTP %d)", status)
		}
		return api.NewServerError(message)
	}
}

// MapNetworkError converts a transport-level failure (connection refused,
// timeout, DNS) into an APIError.
func MapNetworkError(err error) error {
	return api.NewServerError(fmt.Sprintf("backend connection error: %s", err.Error()))
}
