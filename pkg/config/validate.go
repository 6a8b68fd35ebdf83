package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

func oneOf(field, got string, allowed ...string) error {
	if slices.Contains(allowed, got) {
		return nil
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), got)
}

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add(fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}

	add(oneOf("engine.provider", c.Engine.Provider, "openai", "anthropic"))
	if c.Engine.APIKey == "" && c.Engine.BaseURL == "" {
		add(errors.New("engine.api_key is required unless engine.base_url points to a proxy"))
	}
	if c.Engine.Model == "" {
		add(errors.New("engine.model is required"))
	}
	if c.Engine.MaxIter <= 0 {
		add(fmt.Errorf("engine.max_iter must be > 0, got %d", c.Engine.MaxIter))
	}

	add(oneOf("sandbox.type", c.Sandbox.Type, "static", "kubernetes"))
	if c.Sandbox.Type == "static" && c.Sandbox.URL == "" {
		add(errors.New(`sandbox.url is required when sandbox.type is "static"`))
	}

	add(oneOf("storage.type", c.Storage.Type, "memory", "postgres", "sqlite"))
	switch c.Storage.Type {
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			add(errors.New(`storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is "postgres"`))
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			add(errors.New(`storage.sqlite.path is required when storage.type is "sqlite"`))
		}
	}

	if c.Workflow.Workers <= 0 {
		add(fmt.Errorf("workflow.workers must be > 0, got %d", c.Workflow.Workers))
	}
	if c.Workflow.QueueSize < 0 || c.Workflow.Retries < 0 {
		add(errors.New("workflow.queue_size and workflow.retries must not be negative"))
	}
	if c.Workflow.JournalRetention > 0 && c.Workflow.PruneInterval <= 0 {
		add(errors.New("workflow.prune_interval must be > 0 when journal_retention is set"))
	}

	add(oneOf("auth.type", c.Auth.Type, "none", "apikey", "jwt"))
	if c.Auth.Type == "apikey" && len(c.Auth.APIKeys) == 0 {
		add(errors.New(`auth.api_keys must not be empty when auth.type is "apikey"`))
	}
	if c.Auth.Type == "jwt" && c.Auth.JWT.JWKSURL == "" {
		add(errors.New(`auth.jwt.jwks_url is required when auth.type is "jwt"`))
	}
	for i, k := range c.Auth.APIKeys {
		if k.Key == "" || k.Subject == "" {
			add(fmt.Errorf("auth.api_keys[%d]: key and subject are required", i))
		}
	}

	seen := make(map[string]bool, len(c.MCP.Servers))
	for i, s := range c.MCP.Servers {
		if s.Name == "" || s.URL == "" {
			add(fmt.Errorf("mcp.servers[%d]: name and url are required", i))
		}
		if seen[s.Name] {
			add(fmt.Errorf("mcp.servers[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
	}

	add(oneOf("logging.format", c.Logging.Format, "text", "json"))

	return errors.Join(errs...)
}
