// Command component-catalog serves an MCP catalog of the UI components
// preinstalled in the sandbox template. Point mcp.servers at it to let the
// code agent look up component imports before writing files.
//
// Configuration:
//
//	PORT - Listen port (default: 8090)
package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/vibe/pkg/debug"
)

func main() {
	debug.Init(debug.Options{})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newMux(newServer(defaultCatalog)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("component catalog starting", "port", port, "components", len(defaultCatalog))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("component catalog failed", "error", err)
		os.Exit(1)
	}
}

func newMux(server *mcp.Server) *http.ServeMux {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
