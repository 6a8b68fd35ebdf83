package mcp

import (
	"errors"
	"fmt"
	"slices"
)

// Transport types.
const (
	TransportSSE        = "sse"
	TransportStreamable = "streamable-http"
)

// ServerConfig describes a single MCP server connection.
type ServerConfig struct {
	// Name identifies the server in logs and step IDs.
	Name string `json:"name"`

	// Transport is TransportSSE or TransportStreamable (default).
	Transport string `json:"transport"`

	URL string `json:"url"`

	// Headers are sent with every request.
	Headers map[string]string `json:"headers,omitempty"`

	Auth AuthConfig `json:"auth,omitzero"`

	// AllowedTools limits which discovered tools are offered to the agent.
	// Empty allows all.
	AllowedTools []string `json:"allowed_tools,omitempty"`
}

// AuthConfig selects dynamic authentication for a server.
type AuthConfig struct {
	// Type is "" (none) or "oauth_client_credentials".
	Type         string   `json:"type,omitempty"`
	TokenURL     string   `json:"token_url,omitempty"`
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// Validate checks the server configuration.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if c.URL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	switch c.Transport {
	case "", TransportSSE, TransportStreamable:
	default:
		errs = append(errs, fmt.Errorf("unsupported transport %q", c.Transport))
	}
	switch c.Auth.Type {
	case "":
	case "oauth_client_credentials":
		if c.Auth.TokenURL == "" || c.Auth.ClientID == "" {
			errs = append(errs, errors.New("oauth_client_credentials requires token_url and client_id"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported auth type %q", c.Auth.Type))
	}
	return errors.Join(errs...)
}

// allows reports whether the tool is offered to the agent.
func (c ServerConfig) allows(tool string) bool {
	return len(c.AllowedTools) == 0 || slices.Contains(c.AllowedTools, tool)
}
