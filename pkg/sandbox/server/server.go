// Package server implements the HTTP API served from inside a sandbox:
// streamed shell command execution and workspace file access.
//
// Routes:
//
//	POST /commands      run a shell command, streaming NDJSON frames
//	PUT  /files?path=   create or replace a file (request body is the content)
//	GET  /files?path=   read a file (404 when missing)
//	GET  /health        capacity and runtime information
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rhuss/vibe/pkg/sandbox"
)

// Config controls the sandbox server.
type Config struct {
	// Root is the workspace directory. Commands run here and relative file
	// paths resolve against it.
	Root string
	// Shell runs commands as `<shell> -lc <command>`.
	Shell string
	// MaxConcurrent bounds concurrently running commands.
	MaxConcurrent int
	// DefaultTimeout applies when a request sets no timeout.
	DefaultTimeout time.Duration
	// MaxTimeout caps request timeouts.
	MaxTimeout time.Duration
	// MaxFileSize bounds PUT /files bodies.
	MaxFileSize int64
	// Runtimes is reported by /health.
	Runtimes map[string]string
}

// Server is the sandbox HTTP handler.
type Server struct {
	cfg         Config
	currentLoad atomic.Int32
	startTime   time.Time
	mux         *http.ServeMux
}

// New creates a Server. Zero config fields get defaults.
func New(cfg Config) (*Server, error) {
	if cfg.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		cfg.Root = wd
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	cfg.Root = root
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	if cfg.Shell == "" {
		cfg.Shell = "bash"
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 30 * time.Minute
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}

	s := &Server{cfg: cfg, startTime: time.Now(), mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /commands", s.handleCommand)
	s.mux.HandleFunc("PUT /files", s.handleWriteFile)
	s.mux.HandleFunc("GET /files", s.handleReadFile)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// --- Commands ---

// frameWriter serialises frames from the stdout and stderr readers.
type frameWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
	rc  *http.ResponseController
}

func (fw *frameWriter) write(f sandbox.Frame) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.enc.Encode(f); err != nil {
		return
	}
	_ = fw.rc.Flush()
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	current := s.currentLoad.Add(1)
	defer s.currentLoad.Add(-1)

	if int(current) > s.cfg.MaxConcurrent {
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("at capacity (%d/%d concurrent commands)", current, s.cfg.MaxConcurrent))
		return
	}

	var req sandbox.CommandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024*1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	timeout := s.cfg.DefaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = min(time.Duration(req.TimeoutSeconds)*time.Second, s.cfg.MaxTimeout)
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	slog.Info("command request", "command", truncate(req.Command, 120), "timeout", timeout)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	fw := &frameWriter{enc: json.NewEncoder(w), rc: http.NewResponseController(w)}

	cmd := exec.CommandContext(ctx, s.cfg.Shell, "-lc", req.Command)
	cmd.Dir = s.cfg.Root
	cmd.Env = os.Environ()
	cmd.WaitDelay = 5 * time.Second

	// Writers instead of pipes: with WaitDelay, Wait returns even when a
	// backgrounded child keeps the output descriptors open.
	stdout := &frameSink{typ: sandbox.FrameStdout, fw: fw}
	stderr := &frameSink{typ: sandbox.FrameStderr, fw: fw}
	cmd.Stdout, cmd.Stderr = stdout, stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		fw.write(sandbox.Frame{Type: sandbox.FrameError, Data: "start command: " + err.Error()})
		return
	}

	exitCode := 0
	err := cmd.Wait()
	stdout.flush()
	stderr.flush()
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(err, exec.ErrWaitDelay):
			// Exited cleanly; a background process still holds the output.
		case ctx.Err() == context.DeadlineExceeded:
			exitCode = 124
			fw.write(sandbox.Frame{Type: sandbox.FrameStderr,
				Data: fmt.Sprintf("command timed out after %s\n", timeout)})
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		default:
			exitCode = -1
			fw.write(sandbox.Frame{Type: sandbox.FrameStderr, Data: err.Error() + "\n"})
		}
	}

	fw.write(sandbox.Frame{Type: sandbox.FrameExit, ExitCode: exitCode})
	slog.Info("command complete", "exit_code", exitCode, "duration_ms", time.Since(start).Milliseconds())
}

// frameSink turns writes into frames of one type. A UTF-8 sequence split
// across writes is held back until it is complete, so every frame carries
// valid text.
type frameSink struct {
	typ string
	fw  *frameWriter

	mu      sync.Mutex
	pending []byte
}

func (sink *frameSink) Write(p []byte) (int, error) {
	n := len(p)
	sink.mu.Lock()
	defer sink.mu.Unlock()

	if len(sink.pending) > 0 {
		p = append(sink.pending, p...)
		sink.pending = nil
	}
	if cut := completePrefix(p); cut < len(p) {
		sink.pending = append([]byte(nil), p[cut:]...)
		p = p[:cut]
	}
	if len(p) > 0 {
		sink.fw.write(sandbox.Frame{Type: sink.typ, Data: string(p)})
	}
	return n, nil
}

// flush emits held-back bytes once the command has finished writing.
func (sink *frameSink) flush() {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.pending) > 0 {
		sink.fw.write(sandbox.Frame{Type: sink.typ, Data: string(sink.pending)})
		sink.pending = nil
	}
}

// completePrefix returns the length of p without a trailing incomplete
// UTF-8 sequence.
func completePrefix(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if utf8.FullRune(p[i:]) {
				return len(p)
			}
			return i
		}
	}
	return len(p)
}

// --- Files ---

// resolve maps a request path into the workspace. Absolute paths inside
// the root are used as-is; everything else is rooted at the workspace.
func (s *Server) resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path is required")
	}
	if filepath.IsAbs(p) {
		clean := filepath.Clean(p)
		if clean == s.cfg.Root || strings.HasPrefix(clean, s.cfg.Root+string(filepath.Separator)) {
			return clean, nil
		}
	}
	full := filepath.Join(s.cfg.Root, filepath.Clean("/"+p))
	if full == s.cfg.Root {
		return "", errors.New("path refers to the workspace root")
	}
	return full, nil
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	full, err := s.resolve(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "read body: "+err.Error())
		return
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "create directory: "+err.Error())
		return
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, "write file: "+err.Error())
		return
	}
	slog.Debug("file written", "path", full, "bytes", len(data))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	full, err := s.resolve(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "file not found: "+r.URL.Query().Get("path"))
			return
		}
		writeError(w, http.StatusInternalServerError, "read file: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sandbox.HealthResponse{
		Status:      "healthy",
		Root:        s.cfg.Root,
		Capacity:    s.cfg.MaxConcurrent,
		CurrentLoad: int(s.currentLoad.Load()),
		UptimeSecs:  int64(time.Since(s.startTime).Seconds()),
		Runtimes:    s.cfg.Runtimes,
	})
}

// --- Helpers ---

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// DetectRuntimes returns the first version line of each tool found in PATH.
func DetectRuntimes(tools ...string) map[string]string {
	out := make(map[string]string)
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			continue
		}
		output, err := exec.Command(tool, "--version").Output()
		if err != nil {
			out[tool] = "unknown"
			continue
		}
		version := strings.TrimSpace(string(output))
		if idx := strings.Index(version, "\n"); idx > 0 {
			version = version[:idx]
		}
		out[tool] = version
	}
	return out
}
