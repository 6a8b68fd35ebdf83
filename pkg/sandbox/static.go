package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const staticIDPrefix = "sbx_"

// StaticProvider serves every sandbox from one pre-started sandbox server.
// It is meant for development: all runs share the same workspace.
type StaticProvider struct {
	baseURL      string
	hostTemplate string
	opts         []ClientOption
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider for the sandbox server at baseURL.
// hostTemplate controls Host(port); see ExpandHost. An empty template uses
// the server's hostname with the requested port.
func NewStaticProvider(baseURL, hostTemplate string, opts ...ClientOption) (*StaticProvider, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid sandbox url %q", baseURL)
	}
	return &StaticProvider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		hostTemplate: hostTemplate,
		opts:         opts,
	}, nil
}

// Create implements Provider. No resources are allocated.
func (p *StaticProvider) Create(_ context.Context, template string) (string, error) {
	id := staticIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	slog.Debug("static sandbox issued", "sandbox_id", id, "template", template)
	return id, nil
}

// Connect implements Provider. Identifiers survive restarts because they
// carry no server-side state.
func (p *StaticProvider) Connect(_ context.Context, id string) (Sandbox, error) {
	if !strings.HasPrefix(id, staticIDPrefix) || len(id) == len(staticIDPrefix) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSandbox, id)
	}

	opts := append([]ClientOption{}, p.opts...)
	if p.hostTemplate != "" {
		tmpl := p.hostTemplate
		u, _ := url.Parse(p.baseURL)
		opts = append(opts, WithHostFunc(func(port int) string {
			return ExpandHost(tmpl, id, u.Hostname(), port)
		}))
	}
	return NewClient(id, p.baseURL, opts...), nil
}

// ExpandHost renders a host template. Supported placeholders are {id},
// {host} and {port}; for example "{port}-{id}.preview.example.com".
func ExpandHost(tmpl, id, host string, port int) string {
	r := strings.NewReplacer("{id}", id, "{host}", host, "{port}", strconv.Itoa(port))
	return r.Replace(tmpl)
}
