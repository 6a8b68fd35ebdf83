package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/rhuss/vibe/pkg/agent"
	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/auth"
	"github.com/rhuss/vibe/pkg/auth/apikey"
	"github.com/rhuss/vibe/pkg/auth/jwt"
	"github.com/rhuss/vibe/pkg/config"
	"github.com/rhuss/vibe/pkg/provider"
	"github.com/rhuss/vibe/pkg/provider/anthropic"
	"github.com/rhuss/vibe/pkg/provider/openai"
	"github.com/rhuss/vibe/pkg/sandbox"
	"github.com/rhuss/vibe/pkg/sandbox/kubernetes"
	"github.com/rhuss/vibe/pkg/step"
	"github.com/rhuss/vibe/pkg/storage"
	"github.com/rhuss/vibe/pkg/storage/memory"
	"github.com/rhuss/vibe/pkg/storage/postgres"
	"github.com/rhuss/vibe/pkg/storage/sqlite"
	"github.com/rhuss/vibe/pkg/tools/mcp"
	"github.com/rhuss/vibe/pkg/transport"
)

// openStorage returns the project store and the step journal. Durable
// stores journal steps in the same database; the memory store pairs with a
// memory journal.
func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Store, step.Journal, error) {
	switch cfg.Type {
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return s, s, nil
	case "sqlite":
		s, err := sqlite.New(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		slog.Info("storage enabled", "type", "sqlite", "path", cfg.SQLite.Path)
		return s, s, nil
	default:
		slog.Warn("using in-memory storage, projects are lost on restart", "max_projects", cfg.MaxSize)
		return memory.New(cfg.MaxSize), step.NewMemoryJournal(), nil
	}
}

type models struct {
	agent, title, response agent.Model
}

// newModels builds the code agent model and the generator models. The
// generators share the backend connection and differ only in model name.
func newModels(cfg config.EngineConfig) (models, error) {
	pcfg := provider.Config{
		Type:         cfg.Provider,
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		MaxTokens:    cfg.MaxTokens,
		Timeout:      cfg.Timeout,
		ModelMapping: cfg.ModelMapping,
	}
	if err := pcfg.Validate(); err != nil {
		return models{}, err
	}

	switch pcfg.Type {
	case provider.TypeAnthropic:
		m, err := anthropic.New(pcfg)
		if err != nil {
			return models{}, fmt.Errorf("creating anthropic provider: %w", err)
		}
		return models{
			agent:    m,
			title:    m.WithModel(orDefault(cfg.TitleModel, cfg.Model)),
			response: m.WithModel(orDefault(cfg.ResponseModel, cfg.Model)),
		}, nil
	default:
		m, err := openai.New(pcfg)
		if err != nil {
			return models{}, fmt.Errorf("creating openai provider: %w", err)
		}
		return models{
			agent:    m,
			title:    m.WithModel(orDefault(cfg.TitleModel, cfg.Model)),
			response: m.WithModel(orDefault(cfg.ResponseModel, cfg.Model)),
		}, nil
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func newSandboxProvider(cfg config.SandboxConfig) (sandbox.Provider, error) {
	if cfg.Type != "kubernetes" {
		slog.Warn("using static sandbox, all runs share one workspace", "url", cfg.URL)
		p, err := sandbox.NewStaticProvider(cfg.URL, cfg.HostTemplate)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	scheme, err := kubernetes.NewScheme()
	if err != nil {
		return nil, err
	}
	restCfg, err := ctrlconfig.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig: %w", err)
	}
	c, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return kubernetes.NewClaimProvider(c, kubernetes.Config{
		Namespace:    cfg.Kubernetes.Namespace,
		ClaimTimeout: cfg.Kubernetes.ClaimTimeout,
		ServerPort:   cfg.Kubernetes.ServerPort,
		HostTemplate: cfg.HostTemplate,
	}), nil
}

// newAuthMiddleware builds the auth chain. API keys, when configured, are
// always accepted next to session tokens.
func newAuthMiddleware(cfg config.AuthConfig) (transport.Middleware, error) {
	chain := &auth.AuthChain{DefaultDecision: auth.No}

	if len(cfg.APIKeys) > 0 {
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			id := auth.Identity{Subject: k.Subject, ServiceTier: k.ServiceTier}
			if k.OrgID != "" {
				id.Metadata = map[string]string{"org_id": k.OrgID}
			}
			entries = append(entries, apikey.RawKeyEntry{Key: k.Key, Identity: id})
		}
		keys, err := apikey.New("", entries)
		if err != nil {
			return nil, fmt.Errorf("auth.api_keys: %w", err)
		}
		chain.Authenticators = append(chain.Authenticators, keys)
	}

	switch cfg.Type {
	case "jwt":
		chain.Authenticators = append(chain.Authenticators, jwt.New(jwt.Config{
			Issuer:            cfg.JWT.Issuer,
			Audience:          cfg.JWT.Audience,
			AuthorizedParties: cfg.JWT.AuthorizedParties,
			JWKSURL:           cfg.JWT.JWKSURL,
			UserClaim:         cfg.JWT.UserClaim,
			OrgClaim:          cfg.JWT.OrgClaim,
			ScopesClaim:       cfg.JWT.ScopesClaim,
			SessionCookie:     cfg.JWT.SessionCookie,
			Leeway:            cfg.JWT.Leeway,
			CacheTTL:          cfg.JWT.CacheTTL,
		}))
	case "none":
		slog.Warn("authentication disabled, all projects belong to the anonymous user")
		chain.DefaultDecision = auth.Yes
	}

	var limiter auth.RateLimiter
	if cfg.RateLimit.DefaultRPM > 0 || len(cfg.RateLimit.Tiers) > 0 {
		tiers := make(map[string]auth.TierConfig, len(cfg.RateLimit.Tiers))
		for name, rpm := range cfg.RateLimit.Tiers {
			tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
		}
		limiter = auth.NewInProcessLimiter(tiers, cfg.RateLimit.DefaultRPM)
	}

	return auth.Middleware(chain, limiter, auth.DefaultBypassEndpoints), nil
}

func mcpServers(cfg config.MCPConfig) []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		out = append(out, mcp.ServerConfig{
			Name:         s.Name,
			Transport:    s.Transport,
			URL:          s.URL,
			Headers:      s.Headers,
			AllowedTools: s.AllowedTools,
			Auth: mcp.AuthConfig{
				Type:         s.Auth.Type,
				TokenURL:     s.Auth.TokenURL,
				ClientID:     s.Auth.ClientID,
				ClientSecret: s.Auth.ClientSecret,
				Scopes:       s.Auth.Scopes,
			},
		})
	}
	return out
}

// pruneJournal deletes journal entries older than retention every interval.
func pruneJournal(ctx context.Context, p journalPruner, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PruneJournal(ctx, time.Now().Add(-retention))
			if err != nil {
				slog.Warn("pruning step journal", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("pruned step journal", "entries", n, "retention", retention)
			}
		}
	}
}

func disabledMetrics() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		transport.WriteAPIError(w, api.NewNotFoundError("metrics are disabled"))
	})
}
