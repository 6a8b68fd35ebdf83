package provider

import (
	"fmt"
	"time"
)

// Backend types.
const (
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4.1"

// Config holds connection settings for a model backend.
type Config struct {
	// Type selects the backend: "openai" (default) or "anthropic".
	Type string

	// BaseURL overrides the backend endpoint, e.g. a LiteLLM or vLLM proxy
	// speaking the OpenAI protocol. Empty uses the vendor default.
	BaseURL string

	// APIKey authenticates against the backend.
	APIKey string

	// Model is the model identifier sent to the backend.
	Model string

	// MaxTokens caps the completion length. Zero uses the backend default
	// (4096 for Anthropic, unset for OpenAI).
	MaxTokens int

	// Timeout for individual HTTP requests. Defaults to 120s.
	Timeout time.Duration

	// ModelMapping maps configured model names to backend identifiers.
	// Names not in the map are passed through unchanged.
	ModelMapping map[string]string
}

// WithDefaults returns c with unset fields defaulted.
func (c Config) WithDefaults() Config {
	if c.Type == "" {
		c.Type = TypeOpenAI
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
	return c
}

// Validate checks that c names a known backend.
func (c Config) Validate() error {
	switch c.Type {
	case "", TypeOpenAI, TypeAnthropic:
	default:
		return fmt.Errorf("unknown provider type %q", c.Type)
	}
	return nil
}

// BackendModel returns the identifier to send to the backend for c.Model.
func (c Config) BackendModel() string {
	if mapped, ok := c.ModelMapping[c.Model]; ok {
		return mapped
	}
	return c.Model
}
