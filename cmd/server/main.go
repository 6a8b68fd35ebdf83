// Command server runs the vibe API: project and message endpoints backed by
// an in-process workflow dispatcher that runs the code agent in sandboxes.
//
// Configuration is read from a YAML file (--config, VIBE_CONFIG,
// ./config.yaml or /etc/vibe/config.yaml) and VIBE_* environment variables.
// See pkg/config for all settings.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhuss/vibe/pkg/codeagent"
	"github.com/rhuss/vibe/pkg/config"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/observability"
	"github.com/rhuss/vibe/pkg/projects"
	"github.com/rhuss/vibe/pkg/tools/mcp"
	"github.com/rhuss/vibe/pkg/transport"
	transporthttp "github.com/rhuss/vibe/pkg/transport/http"
	"github.com/rhuss/vibe/pkg/workflow"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Run the vibe API server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				// The logger is not configured yet.
				fmt.Fprintln(os.Stderr, "error:", err)
				return err
			}
			debug.Init(debug.Options{
				Categories: cfg.Logging.Debug,
				Level:      cfg.Logging.Level,
				Format:     cfg.Logging.Format,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, cfg); err != nil {
				slog.Error("server failed", "error", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	tp, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:        cfg.Observability.Tracing.Enabled,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		Insecure:       cfg.Observability.Tracing.Insecure,
		SampleRate:     cfg.Observability.Tracing.SampleRate,
		ServiceName:    "vibe",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer shutdownWithTimeout("tracer", tp.Shutdown)

	store, journal, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing store", "error", err)
		}
	}()

	models, err := newModels(cfg.Engine)
	if err != nil {
		return err
	}

	sandboxes, err := newSandboxProvider(cfg.Sandbox)
	if err != nil {
		return err
	}

	toolset, err := mcp.Connect(ctx, mcpServers(cfg.MCP))
	if err != nil {
		return fmt.Errorf("connecting MCP servers: %w", err)
	}
	defer toolset.Close()
	extraTools, err := mcp.Tools[codeagent.State](ctx, toolset, codeagent.SandboxTools...)
	if err != nil {
		return fmt.Errorf("discovering MCP tools: %w", err)
	}

	fn, err := codeagent.New(codeagent.Config{
		Model:          models.agent,
		TitleModel:     models.title,
		ResponseModel:  models.response,
		Sandboxes:      sandboxes,
		Store:          store,
		Template:       cfg.Sandbox.Template,
		MaxIter:        cfg.Engine.MaxIter,
		CommandTimeout: cfg.Sandbox.CommandTimeout,
		Retries:        cfg.Workflow.Retries,
		ExtraTools:     extraTools,
	})
	if err != nil {
		return err
	}

	wfCfg := workflow.DefaultConfig()
	wfCfg.Workers = cfg.Workflow.Workers
	wfCfg.QueueSize = cfg.Workflow.QueueSize
	wfCfg.RunHistory = cfg.Workflow.RunHistory
	wf, err := workflow.New(wfCfg, journal, workflow.Recovery(), workflow.Logging(nil))
	if err != nil {
		return err
	}
	if err := wf.Register(fn.Definition()); err != nil {
		return err
	}
	if err := wf.Start(ctx); err != nil {
		return err
	}
	defer shutdownWithTimeout("workflow", wf.Close)

	if pruner, ok := journal.(journalPruner); ok && cfg.Workflow.JournalRetention > 0 {
		go pruneJournal(ctx, pruner, cfg.Workflow.JournalRetention, cfg.Workflow.PruneInterval)
	}

	authMW, err := newAuthMiddleware(cfg.Auth)
	if err != nil {
		return err
	}

	adapterCfg := transporthttp.DefaultConfig()
	adapterCfg.MaxBodySize = cfg.Server.MaxBodySize
	adapterCfg.Auth = authMW
	adapterCfg.Ready = map[string]transport.HealthChecker{"storage": store}
	if !cfg.Observability.Metrics.Enabled {
		adapterCfg.Metrics = disabledMetrics()
	}
	adapter := transporthttp.NewAdapter(projects.New(store, wf, projects.Config{}), wf, adapterCfg)

	slog.Info("vibe starting",
		"version", version,
		"port", cfg.Server.Port,
		"provider", cfg.Engine.Provider,
		"model", cfg.Engine.Model,
		"sandbox", cfg.Sandbox.Type,
		"storage", cfg.Storage.Type,
		"auth", cfg.Auth.Type,
		"mcp_tools", len(extraTools),
	)

	srv := transporthttp.NewServer(adapter,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)
	return srv.Run(ctx)
}

// shutdownWithTimeout runs a shutdown func with a fresh context, since the
// serving context is already cancelled at this point.
func shutdownWithTimeout(what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("shutdown incomplete", "component", what, "error", err)
	}
}

type journalPruner interface {
	PruneJournal(ctx context.Context, before time.Time) (int64, error)
}
