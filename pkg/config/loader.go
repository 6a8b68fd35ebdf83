package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/vibe/pkg/debug"
)

// Load builds the configuration from defaults, the config file, the
// environment and secret files, then validates it.
//
// The config file is the explicit configPath, else VIBE_CONFIG, else the
// first of ./config.yaml and /etc/vibe/config.yaml that exists.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if path := discoverConfigFile(configPath); path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
		debug.Log("config", "config file loaded", "path", path)
	}

	if err := applyEnvOverrides(&cfg, os.Getenv); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("VIBE_CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"config.yaml", "/etc/vibe/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile decodes path over cfg. Keys absent from the file keep their
// current values; unknown keys are rejected.
func loadYAMLFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// envVar maps one environment variable onto the config.
type envVar struct {
	name  string
	apply func(cfg *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*dst(cfg) = v
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(cfg) = n
		return nil
	}
}

func duration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(cfg) = d
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(cfg) = b
		return nil
	}
}

func jsonList[T any](dst func(*Config) *[]T) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		var items []T
		if err := json.Unmarshal([]byte(v), &items); err != nil {
			return err
		}
		*dst(cfg) = items
		return nil
	}
}

var envVars = []envVar{
	{"VIBE_PORT", integer(func(c *Config) *int { return &c.Server.Port })},
	{"VIBE_PROVIDER", str(func(c *Config) *string { return &c.Engine.Provider })},
	{"VIBE_BASE_URL", str(func(c *Config) *string { return &c.Engine.BaseURL })},
	{"VIBE_API_KEY", str(func(c *Config) *string { return &c.Engine.APIKey })},
	{"VIBE_MODEL", str(func(c *Config) *string { return &c.Engine.Model })},
	{"VIBE_MAX_ITER", integer(func(c *Config) *int { return &c.Engine.MaxIter })},
	{"VIBE_SANDBOX_TYPE", str(func(c *Config) *string { return &c.Sandbox.Type })},
	{"VIBE_SANDBOX_URL", str(func(c *Config) *string { return &c.Sandbox.URL })},
	{"VIBE_SANDBOX_HOST_TEMPLATE", str(func(c *Config) *string { return &c.Sandbox.HostTemplate })},
	{"VIBE_SANDBOX_TEMPLATE", str(func(c *Config) *string { return &c.Sandbox.Template })},
	{"VIBE_SANDBOX_NAMESPACE", str(func(c *Config) *string { return &c.Sandbox.Kubernetes.Namespace })},
	{"VIBE_STORAGE", str(func(c *Config) *string { return &c.Storage.Type })},
	{"VIBE_STORAGE_SIZE", integer(func(c *Config) *int { return &c.Storage.MaxSize })},
	{"VIBE_DATABASE_URL", str(func(c *Config) *string { return &c.Storage.Postgres.DSN })},
	{"VIBE_SQLITE_PATH", str(func(c *Config) *string { return &c.Storage.SQLite.Path })},
	{"VIBE_WORKERS", integer(func(c *Config) *int { return &c.Workflow.Workers })},
	{"VIBE_JOURNAL_RETENTION", duration(func(c *Config) *time.Duration { return &c.Workflow.JournalRetention })},
	{"VIBE_AUTH_TYPE", str(func(c *Config) *string { return &c.Auth.Type })},
	{"VIBE_API_KEYS", jsonList(func(c *Config) *[]APIKeyConfig { return &c.Auth.APIKeys })},
	{"VIBE_JWT_ISSUER", str(func(c *Config) *string { return &c.Auth.JWT.Issuer })},
	{"VIBE_JWKS_URL", str(func(c *Config) *string { return &c.Auth.JWT.JWKSURL })},
	{"VIBE_RATE_LIMIT_RPM", integer(func(c *Config) *int { return &c.Auth.RateLimit.DefaultRPM })},
	{"VIBE_MCP_SERVERS", jsonList(func(c *Config) *[]MCPServerConfig { return &c.MCP.Servers })},
	{"VIBE_TRACING_ENABLED", boolean(func(c *Config) *bool { return &c.Observability.Tracing.Enabled })},
	{"VIBE_OTLP_ENDPOINT", str(func(c *Config) *string { return &c.Observability.Tracing.Endpoint })},
	{"VIBE_LOG_FORMAT", str(func(c *Config) *string { return &c.Logging.Format })},
}

// applyEnvOverrides applies VIBE_* variables. When no engine key is
// configured, the vendor variable of the selected provider is used.
func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	for _, ev := range envVars {
		v := getenv(ev.name)
		if v == "" {
			continue
		}
		if err := ev.apply(cfg, v); err != nil {
			return fmt.Errorf("%s: %w", ev.name, err)
		}
		debug.Log("config", "environment override", "var", ev.name)
	}

	if cfg.Engine.APIKey == "" && cfg.Engine.APIKeyFile == "" {
		vendor := "OPENAI_API_KEY"
		if cfg.Engine.Provider == "anthropic" {
			vendor = "ANTHROPIC_API_KEY"
		}
		if v := getenv(vendor); v != "" {
			slog.Debug("using vendor API key variable", "var", vendor)
			cfg.Engine.APIKey = v
		}
	}
	return nil
}

type secretRef struct {
	field string
	file  string
	dst   *string
}

// resolveFileReferences fills empty secret fields from their _file
// companions, trimming surrounding whitespace.
func resolveFileReferences(cfg *Config) error {
	refs := []secretRef{
		{"engine.api_key_file", cfg.Engine.APIKeyFile, &cfg.Engine.APIKey},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
	}
	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		refs = append(refs, secretRef{fmt.Sprintf("auth.api_keys[%d].key_file", i), k.KeyFile, &k.Key})
	}
	for i := range cfg.MCP.Servers {
		a := &cfg.MCP.Servers[i].Auth
		refs = append(refs,
			secretRef{fmt.Sprintf("mcp.servers[%d].auth.client_id_file", i), a.ClientIDFile, &a.ClientID},
			secretRef{fmt.Sprintf("mcp.servers[%d].auth.client_secret_file", i), a.ClientSecretFile, &a.ClientSecret},
		)
	}

	for _, ref := range refs {
		if ref.file == "" || *ref.dst != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.field, err)
		}
		*ref.dst = val
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
