// Command sandbox-server runs inside a sandbox pod and exposes the
// workspace to the code agent: streamed shell commands and file access.
//
// Configuration:
//
//	SANDBOX_PORT            - Listen port (default: 8080)
//	SANDBOX_ROOT            - Workspace directory (default: /home/user, falls back to cwd)
//	SANDBOX_SHELL           - Shell used as `<shell> -lc <command>` (default: bash)
//	SANDBOX_MAX_CONCURRENT  - Max concurrent commands (default: 4)
//	SANDBOX_COMMAND_TIMEOUT - Default command timeout in seconds (default: 300)
//	SANDBOX_LOG_FORMAT      - text or json (default: text)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/sandbox/server"
)

func main() {
	debug.Init(debug.Options{Format: os.Getenv("SANDBOX_LOG_FORMAT")})

	port := envOr("SANDBOX_PORT", "8080")
	root := envOr("SANDBOX_ROOT", "")
	if root == "" {
		if fi, err := os.Stat("/home/user"); err == nil && fi.IsDir() {
			root = "/home/user"
		}
	}

	srv, err := server.New(server.Config{
		Root:           root,
		Shell:          envOr("SANDBOX_SHELL", "bash"),
		MaxConcurrent:  envOrInt("SANDBOX_MAX_CONCURRENT", 4),
		DefaultTimeout: time.Duration(envOrInt("SANDBOX_COMMAND_TIMEOUT", 300)) * time.Second,
		Runtimes:       server.DetectRuntimes("node", "npm", "bash"),
	})
	if err != nil {
		slog.Error("failed to create sandbox server", "error", err)
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:              ":" + port,
		Handler:           srv,
		ReadHeaderTimeout: 30 * time.Second,
		// No WriteTimeout: command streams last as long as the command.
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("sandbox server starting", "port", port, "root", root)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}
