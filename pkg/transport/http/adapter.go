package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/observability"
	"github.com/rhuss/vibe/pkg/transport"
)

// Adapter serves the projects API over HTTP.
type Adapter struct {
	projects transport.ProjectService
	runs     transport.RunRegistry
	config   Config
	mux      *http.ServeMux
	handler  http.Handler
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	// MaxBodySize limits request bodies (default 1 MB).
	MaxBodySize int64

	// ReadyTimeout bounds each readiness check (default 2s).
	ReadyTimeout time.Duration

	// Auth wraps the API routes. The auth middleware is expected to skip
	// /healthz, /readyz and /metrics itself.
	Auth transport.Middleware

	// Ready lists the dependencies checked by /readyz.
	Ready map[string]transport.HealthChecker

	// Metrics serves /metrics. Defaults to the Prometheus default gatherer.
	Metrics http.Handler
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize:  1 << 20,
		ReadyTimeout: 2 * time.Second,
	}
}

// NewAdapter creates an HTTP adapter. The runs registry is optional; without
// it GET /v1/runs/{id} answers 404. Extra middleware runs after recovery,
// request IDs, logging and auth.
func NewAdapter(projects transport.ProjectService, runs transport.RunRegistry, cfg Config, middlewares ...transport.Middleware) *Adapter {
	def := DefaultConfig()
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = def.ReadyTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = promhttp.Handler()
	}

	a := &Adapter{
		projects: projects,
		runs:     runs,
		config:   cfg,
		mux:      http.NewServeMux(),
	}

	a.mux.HandleFunc("POST /v1/projects", a.handleCreateProject)
	a.mux.HandleFunc("GET /v1/projects", a.handleListProjects)
	a.mux.HandleFunc("GET /v1/projects/{id}", a.handleGetProject)
	a.mux.HandleFunc("POST /v1/projects/{id}/messages", a.handleCreateMessage)
	a.mux.HandleFunc("GET /v1/projects/{id}/messages", a.handleListMessages)
	a.mux.HandleFunc("GET /v1/runs/{id}", a.handleGetRun)
	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)
	a.mux.Handle("GET /metrics", cfg.Metrics)

	chain := []transport.Middleware{
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(nil),
	}
	if cfg.Auth != nil {
		chain = append(chain, cfg.Auth)
	}
	chain = append(chain, middlewares...)
	// Innermost, so it sees the pattern set by the mux on this request.
	chain = append(chain, observability.MetricsMiddleware)
	a.handler = transport.Chain(chain...)(a.mux)
	return a
}

// Handler returns the http.Handler for this adapter.
func (a *Adapter) Handler() http.Handler {
	return a.handler
}

func (a *Adapter) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req api.CreateProjectRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.projects.CreateProject(r.Context(), &req)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusCreated, resp)
}

func (a *Adapter) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := a.projects.ListProjects(r.Context())
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	if projects == nil {
		projects = []*api.Project{}
	}
	transport.WriteJSON(w, http.StatusOK, api.ProjectList{Object: "list", Data: projects})
}

func (a *Adapter) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := a.projects.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, p)
}

func (a *Adapter) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req api.CreateMessageRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.projects.CreateMessage(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusCreated, resp)
}

func (a *Adapter) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.projects.ListMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*api.Message{}
	}
	transport.WriteJSON(w, http.StatusOK, api.MessageList{Object: "list", Data: msgs})
}

func (a *Adapter) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if a.runs != nil {
		if run, ok := a.runs.Run(id); ok {
			transport.WriteJSON(w, http.StatusOK, run)
			return
		}
	}
	transport.WriteAPIError(w, api.NewNotFoundError(fmt.Sprintf("run %q not found", id)))
}

func (a *Adapter) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	transport.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports 503 while any registered dependency fails its check.
func (a *Adapter) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(a.config.Ready))
	ready := true
	for name, hc := range a.config.Ready {
		ctx, cancel := context.WithTimeout(r.Context(), a.config.ReadyTimeout)
		err := hc.HealthCheck(ctx)
		cancel()
		if err != nil {
			ready = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !ready {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	transport.WriteJSON(w, code, map[string]any{"status": status, "checks": checks})
}

// decode reads a JSON request body into v. It writes the error response and
// returns false when the body is unacceptable.
func (a *Adapter) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
				http.StatusUnsupportedMediaType,
			)
			return false
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}
