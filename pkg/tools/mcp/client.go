package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/vibe/pkg/debug"
)

// ToolInfo describes a tool discovered on a server.
type ToolInfo struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// CallResult is the outcome of one tool call. It is journaled, so it must
// stay JSON-encodable.
type CallResult struct {
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}

// Client is the connection to a single MCP server.
type Client struct {
	cfg     ServerConfig
	client  *mcp.Client
	session *mcp.ClientSession

	mu    sync.Mutex
	tools []ToolInfo
}

// NewClient creates a Client. Call Connect before use.
func NewClient(cfg ServerConfig) *Client {
	return &Client{cfg: cfg}
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.cfg.Name }

// Connect performs the protocol handshake over the configured transport.
func (c *Client) Connect(ctx context.Context) error {
	t, err := c.transport()
	if err != nil {
		return fmt.Errorf("creating transport for %q: %w", c.cfg.Name, err)
	}
	return c.ConnectWithTransport(ctx, t)
}

// ConnectWithTransport performs the handshake over t. Tests use it with
// in-memory transports.
func (c *Client) ConnectWithTransport(ctx context.Context, t mcp.Transport) error {
	c.client = mcp.NewClient(&mcp.Implementation{Name: "vibe", Version: "1.0.0"}, nil)
	session, err := c.client.Connect(ctx, t, nil)
	if err != nil {
		return fmt.Errorf("connecting to MCP server %q: %w", c.cfg.Name, err)
	}
	c.session = session
	return nil
}

func (c *Client) transport() (mcp.Transport, error) {
	httpClient := c.httpClient()
	switch c.cfg.Transport {
	case TransportSSE:
		return &mcp.SSEClientTransport{Endpoint: c.cfg.URL, HTTPClient: httpClient}, nil
	case TransportStreamable, "":
		return &mcp.StreamableClientTransport{Endpoint: c.cfg.URL, HTTPClient: httpClient}, nil
	default:
		return nil, fmt.Errorf("unsupported transport type %q", c.cfg.Transport)
	}
}

// httpClient returns nil when neither headers nor dynamic auth are
// configured, letting the SDK use its default client.
func (c *Client) httpClient() *http.Client {
	var auth AuthProvider
	if c.cfg.Auth.Type == "oauth_client_credentials" {
		auth = NewOAuthClientCredentials(c.cfg.Auth.TokenURL, c.cfg.Auth.ClientID, c.cfg.Auth.ClientSecret, c.cfg.Auth.Scopes)
	}
	if len(c.cfg.Headers) == 0 && auth == nil {
		return nil
	}
	return &http.Client{Transport: &headerTransport{
		base:    http.DefaultTransport,
		headers: c.cfg.Headers,
		auth:    auth,
	}}
}

// headerTransport adds static headers, then auth headers, to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
	auth    AuthProvider
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if t.auth != nil {
		h, err := t.auth.GetHeaders(req.Context())
		if err != nil {
			return nil, fmt.Errorf("getting auth headers: %w", err)
		}
		for k, v := range h {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// Tools lists the server's allowed tools. The list is fetched once.
func (c *Client) Tools(ctx context.Context) ([]ToolInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tools != nil {
		return c.tools, nil
	}
	if c.session == nil {
		return nil, fmt.Errorf("MCP client %q not connected", c.cfg.Name)
	}

	infos := []ToolInfo{}
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("listing tools from %q: %w", c.cfg.Name, err)
		}
		if !c.cfg.allows(tool.Name) {
			debug.Log("mcp", "tool not allowed", "server", c.cfg.Name, "tool", tool.Name)
			continue
		}
		info := ToolInfo{Name: tool.Name, Description: tool.Description}
		if tool.InputSchema != nil {
			b, err := json.Marshal(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("encoding schema of %q: %w", tool.Name, err)
			}
			info.Parameters = b
		}
		infos = append(infos, info)
	}
	c.tools = infos
	return infos, nil
}

// Call invokes a tool. Protocol failures are returned as errors; failures
// reported by the tool itself come back with IsError set.
func (c *Client) Call(ctx context.Context, name string, args json.RawMessage) (CallResult, error) {
	if c.session == nil {
		return CallResult{}, fmt.Errorf("MCP client %q not connected", c.cfg.Name)
	}

	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return CallResult{Output: fmt.Sprintf("invalid arguments JSON: %v", err), IsError: true}, nil
		}
	}

	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return CallResult{}, fmt.Errorf("calling %q on %q: %w", name, c.cfg.Name, err)
	}

	var out []string
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			out = append(out, tc.Text)
		}
	}
	return CallResult{Output: strings.Join(out, "\n"), IsError: res.IsError}, nil
}

// Close ends the session.
func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}
