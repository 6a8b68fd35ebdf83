package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rhuss/vibe/pkg/agent"
	"github.com/rhuss/vibe/pkg/step"
)

// Toolset owns the connections to all configured MCP servers.
type Toolset struct {
	clients []*Client
}

// Connect connects to every server. A server that fails to connect is
// skipped with a warning so one broken server does not block startup.
func Connect(ctx context.Context, servers []ServerConfig) (*Toolset, error) {
	ts := &Toolset{}
	for _, cfg := range servers {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("mcp server %q: %w", cfg.Name, err)
		}
		c := NewClient(cfg)
		if err := c.Connect(ctx); err != nil {
			slog.Warn("skipping MCP server", "server", cfg.Name, "url", cfg.URL, "error", err)
			continue
		}
		ts.clients = append(ts.clients, c)
	}
	return ts, nil
}

// NewToolset wraps already connected clients.
func NewToolset(clients ...*Client) *Toolset {
	return &Toolset{clients: clients}
}

// Close closes every connection.
func (ts *Toolset) Close() error {
	var errs []error
	for _, c := range ts.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %q: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Tools returns the discovered tools as agent tools. Names in reserved, and
// names already taken by an earlier server, are skipped.
func Tools[S any](ctx context.Context, ts *Toolset, reserved ...string) ([]agent.Tool[S], error) {
	taken := make(map[string]string, len(reserved))
	for _, name := range reserved {
		taken[name] = ""
	}

	var out []agent.Tool[S]
	for _, c := range ts.clients {
		infos, err := c.Tools(ctx)
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			if owner, dup := taken[info.Name]; dup {
				slog.Warn("duplicate MCP tool name, skipping",
					"tool", info.Name,
					"server", c.Name(),
					"taken_by", owner,
				)
				continue
			}
			taken[info.Name] = c.Name()
			out = append(out, newTool[S](c, info))
		}
		slog.Info("discovered MCP tools", "server", c.Name(), "count", len(infos))
	}
	return out, nil
}

func newTool[S any](c *Client, info ToolInfo) agent.Tool[S] {
	params := info.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return agent.Tool[S]{
		Name:        info.Name,
		Description: info.Description,
		Parameters:  params,
		Handler: func(ctx context.Context, args json.RawMessage, tc *agent.ToolContext[S]) (any, error) {
			var runner *step.Runner
			if tc != nil {
				runner = tc.Step
			}
			res, err := step.Run(ctx, runner, "mcp:"+c.Name()+":"+info.Name, func(ctx context.Context) (CallResult, error) {
				return c.Call(ctx, info.Name, args)
			})
			if err != nil {
				return nil, err
			}
			if res.IsError {
				return nil, errors.New(res.Output)
			}
			return res.Output, nil
		},
	}
}
