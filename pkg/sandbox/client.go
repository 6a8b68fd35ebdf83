package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/observability"
)

// maxFrameSize bounds a single NDJSON line from the command stream.
const maxFrameSize = 16 * 1024 * 1024

// Client talks to the sandbox server running inside one sandbox.
type Client struct {
	id         string
	baseURL    string
	httpClient *http.Client
	host       func(port int) string
}

var _ Sandbox = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithHostFunc sets how Host resolves a sandbox port to an external host.
func WithHostFunc(fn func(port int) string) ClientOption {
	return func(c *Client) { c.host = fn }
}

// NewClient creates a handle for sandbox id served at baseURL.
func NewClient(id, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// Execution timeouts are enforced by the sandbox; this bounds hung connections.
			Timeout: 15 * time.Minute,
		},
	}
	for _, o := range opts {
		o(c)
	}
	if c.host == nil {
		c.host = func(port int) string {
			u, err := url.Parse(c.baseURL)
			if err != nil {
				return fmt.Sprintf("localhost:%d", port)
			}
			return fmt.Sprintf("%s:%d", u.Hostname(), port)
		}
	}
	return c
}

// ID implements Sandbox.
func (c *Client) ID() string { return c.id }

// Host implements Sandbox.
func (c *Client) Host(port int) string { return c.host(port) }

// RunCommand implements Sandbox.
func (c *Client) RunCommand(ctx context.Context, cmd string, opts CommandOptions) (result *CommandResult, err error) {
	defer func() {
		observability.SandboxOperationsTotal.WithLabelValues("run_command", observability.OutcomeLabel(err)).Inc()
	}()

	reqBody := CommandRequest{Command: cmd}
	if opts.Timeout > 0 {
		// Whole seconds on the wire; round up so short timeouts stay set.
		reqBody.TimeoutSeconds = int(math.Ceil(opts.Timeout.Seconds()))
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/commands", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	debug.Log("sandbox", "run command", "sandbox_id", c.id, "command", debug.Truncate(cmd, 200))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var stdout, stderr strings.Builder
	exited := false
	exitCode := 0

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		switch f.Type {
		case FrameStdout:
			stdout.WriteString(f.Data)
			if opts.OnStdout != nil {
				opts.OnStdout(f.Data)
			}
		case FrameStderr:
			stderr.WriteString(f.Data)
			if opts.OnStderr != nil {
				opts.OnStderr(f.Data)
			}
		case FrameError:
			return nil, fmt.Errorf("sandbox command error: %s", f.Data)
		case FrameExit:
			exited = true
			exitCode = f.ExitCode
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read command stream: %w", err)
	}
	if !exited {
		return nil, errors.New("command stream ended without exit status")
	}

	debug.Log("sandbox", "command finished", "sandbox_id", c.id, "exit_code", exitCode,
		"stdout_len", stdout.Len(), "stderr_len", stderr.Len())

	if exitCode != 0 {
		return nil, &CommandExitError{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}
	}
	return &CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// WriteFile implements Sandbox.
func (c *Client) WriteFile(ctx context.Context, path, content string) (err error) {
	defer func() {
		observability.SandboxOperationsTotal.WithLabelValues("write_file", observability.OutcomeLabel(err)).Inc()
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, c.fileURL(path), strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	debug.Log("sandbox", "file written", "sandbox_id", c.id, "path", path, "bytes", len(content))
	return nil
}

// ReadFile implements Sandbox.
func (c *Client) ReadFile(ctx context.Context, path string) (content string, err error) {
	defer func() {
		observability.SandboxOperationsTotal.WithLabelValues("read_file", observability.OutcomeLabel(err)).Inc()
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(path), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("read %s: %w", path, ErrFileNotFound)
	}
	if err := checkStatus(resp); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(data), nil
}

// Health queries GET /health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var h HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &h, nil
}

func (c *Client) fileURL(path string) string {
	return c.baseURL + "/files?path=" + url.QueryEscape(path)
}

// checkStatus converts non-2xx responses to errors, consuming the body.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w (HTTP 429)", ErrAtCapacity)
	}
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
		return fmt.Errorf("sandbox returned HTTP %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("sandbox returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
}
