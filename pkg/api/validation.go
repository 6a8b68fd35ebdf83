package api

import (
	"fmt"
	"strings"
)

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxValueLength int
}

// DefaultValidationConfig returns the limits used by the web client.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{MaxValueLength: 10000}
}

// ValidateValue checks a user prompt. It returns an *APIError describing the
// failure, or nil if the value is acceptable.
func ValidateValue(value string, cfg ValidationConfig) *APIError {
	if strings.TrimSpace(value) == "" {
		return NewInvalidRequestError("value", "value is required")
	}
	if cfg.MaxValueLength > 0 && len([]rune(value)) > cfg.MaxValueLength {
		return NewInvalidRequestError("value",
			fmt.Sprintf("value exceeds maximum of %d characters", cfg.MaxValueLength))
	}
	return nil
}

// ValidateCreateProject checks a CreateProjectRequest.
func ValidateCreateProject(req *CreateProjectRequest, cfg ValidationConfig) *APIError {
	if req == nil {
		return NewInvalidRequestError("", "request body is required")
	}
	return ValidateValue(req.Value, cfg)
}

// ValidateCreateMessage checks a CreateMessageRequest against the target project.
func ValidateCreateMessage(projectID string, req *CreateMessageRequest, cfg ValidationConfig) *APIError {
	if projectID == "" {
		return NewInvalidRequestError("project_id", "project id is required")
	}
	if req == nil {
		return NewInvalidRequestError("", "request body is required")
	}
	return ValidateValue(req.Value, cfg)
}
