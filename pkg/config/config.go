// Package config loads the vibe server configuration.
//
// Sources are layered, later ones winning:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (VIBE_ prefix)
//  4. File references for secrets (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the vibe server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Engine        EngineConfig        `yaml:"engine"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Storage       StorageConfig       `yaml:"storage"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Auth          AuthConfig          `yaml:"auth"`
	MCP           MCPConfig           `yaml:"mcp"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 60s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 1 MiB
}

// EngineConfig selects the model backend and the agent limits.
type EngineConfig struct {
	Provider   string `yaml:"provider"`     // "openai" or "anthropic", default: "openai"
	BaseURL    string `yaml:"base_url"`     // OpenAI-compatible proxy; empty uses the vendor endpoint
	APIKey     string `yaml:"api_key"`      // required unless base_url is set
	APIKeyFile string `yaml:"api_key_file"` // _file variant for api_key

	Model         string `yaml:"model"`          // default: "gpt-4.1"
	TitleModel    string `yaml:"title_model"`    // default: model
	ResponseModel string `yaml:"response_model"` // default: model

	MaxTokens    int               `yaml:"max_tokens"`
	Timeout      time.Duration     `yaml:"timeout"`  // default: 120s
	MaxIter      int               `yaml:"max_iter"` // default: 10
	ModelMapping map[string]string `yaml:"model_mapping"`
}

// SandboxConfig selects where generated apps run.
type SandboxConfig struct {
	Type string `yaml:"type"` // "static" or "kubernetes", default: "static"

	// URL of the sandbox server for the static provider.
	URL string `yaml:"url"`

	// HostTemplate renders preview hosts; placeholders {id}, {host}, {port}.
	HostTemplate string `yaml:"host_template"`

	Template       string        `yaml:"template"`        // default: "vibe-nextjs"
	CommandTimeout time.Duration `yaml:"command_timeout"` // default: 5m

	Kubernetes KubernetesSandboxConfig `yaml:"kubernetes"`
}

// KubernetesSandboxConfig configures SandboxClaim provisioning.
type KubernetesSandboxConfig struct {
	Namespace    string        `yaml:"namespace"`     // default: "default"
	ClaimTimeout time.Duration `yaml:"claim_timeout"` // default: 2m
	ServerPort   int           `yaml:"server_port"`   // default: 8080
}

// StorageConfig selects the project store and step journal.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory", "postgres" or "sqlite", default: "memory"
	MaxSize  int            `yaml:"max_size"` // memory store projects, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: true
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"` // default: "vibe.db"
}

// WorkflowConfig sizes the run dispatcher.
type WorkflowConfig struct {
	Workers    int `yaml:"workers"`     // default: 4
	QueueSize  int `yaml:"queue_size"`  // default: 100
	Retries    int `yaml:"retries"`     // run retries after the first attempt, default: 2
	RunHistory int `yaml:"run_history"` // runs kept for GET /v1/runs/{id}, default: 1000

	// JournalRetention bounds how long step results of finished runs are
	// kept by durable journals. Zero disables pruning.
	JournalRetention time.Duration `yaml:"journal_retention"` // default: 168h
	PruneInterval    time.Duration `yaml:"prune_interval"`    // default: 1h
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type"` // "none", "apikey" or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"`
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string `yaml:"subject" json:"subject"`
	OrgID       string `yaml:"org_id" json:"org_id"`
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
}

// JWTConfig configures session token validation.
type JWTConfig struct {
	Issuer            string        `yaml:"issuer"`
	Audience          string        `yaml:"audience"`
	AuthorizedParties []string      `yaml:"authorized_parties"`
	JWKSURL           string        `yaml:"jwks_url"`
	UserClaim         string        `yaml:"user_claim"`
	OrgClaim          string        `yaml:"org_claim"`
	ScopesClaim       string        `yaml:"scopes_claim"`
	SessionCookie     string        `yaml:"session_cookie"`
	Leeway            time.Duration `yaml:"leeway"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

// RateLimitConfig limits requests per subject and minute. Zero disables
// limiting.
type RateLimitConfig struct {
	DefaultRPM int            `yaml:"default_rpm"`
	Tiers      map[string]int `yaml:"tiers"`
}

// MCPConfig lists MCP servers whose tools are offered to the code agent.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes a single MCP server connection.
type MCPServerConfig struct {
	Name         string            `yaml:"name" json:"name"`
	Transport    string            `yaml:"transport" json:"transport"` // "sse" or "streamable-http"
	URL          string            `yaml:"url" json:"url"`
	Headers      map[string]string `yaml:"headers" json:"headers"`
	AllowedTools []string          `yaml:"allowed_tools" json:"allowed_tools"`
	Auth         MCPAuthConfig     `yaml:"auth" json:"auth"`
}

// MCPAuthConfig holds OAuth client credentials for an MCP server.
type MCPAuthConfig struct {
	Type             string   `yaml:"type" json:"type"` // "oauth_client_credentials"
	TokenURL         string   `yaml:"token_url" json:"token_url"`
	ClientID         string   `yaml:"client_id" json:"client_id"`
	ClientIDFile     string   `yaml:"client_id_file" json:"client_id_file"`
	ClientSecret     string   `yaml:"client_secret" json:"client_secret"`
	ClientSecretFile string   `yaml:"client_secret_file" json:"client_secret_file"`
	Scopes           []string `yaml:"scopes" json:"scopes"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig holds Prometheus settings. Disabling metrics keeps the
// collectors but stops serving /metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"` // default: true
}

// TracingConfig holds OTLP trace export settings.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"` // host:port, default: localhost:4318
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sample_rate"` // default: 1.0
}

// LoggingConfig configures the process logger. VIBE_LOG_LEVEL and
// VIBE_DEBUG take precedence.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // default: "INFO"
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     1 << 20,
		},
		Engine: EngineConfig{
			Provider: "openai",
			Model:    "gpt-4.1",
			Timeout:  120 * time.Second,
			MaxIter:  10,
		},
		Sandbox: SandboxConfig{
			Type:           "static",
			Template:       "vibe-nextjs",
			CommandTimeout: 5 * time.Minute,
			Kubernetes: KubernetesSandboxConfig{
				Namespace:    "default",
				ClaimTimeout: 2 * time.Minute,
				ServerPort:   8080,
			},
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns:       25,
				MigrateOnStart: true,
			},
			SQLite: SQLiteConfig{Path: "vibe.db"},
		},
		Workflow: WorkflowConfig{
			Workers:          4,
			QueueSize:        100,
			Retries:          2,
			RunHistory:       1000,
			JournalRetention: 7 * 24 * time.Hour,
			PruneInterval:    time.Hour,
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{Enabled: true},
			Tracing: TracingConfig{
				SampleRate: 1.0,
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}
