// Package client is a Go client for the vibe HTTP API.
//
// Errors returned by the server are decoded into *api.APIError, so callers
// can inspect the error type with errors.As.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rhuss/vibe/pkg/api"
)

// Client calls the vibe API on behalf of one caller.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken authenticates requests with a bearer token, either an API key
// or a session JWT.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// CreateProject starts a project from a first prompt.
func (c *Client) CreateProject(ctx context.Context, value string) (*api.CreateProjectResponse, error) {
	var out api.CreateProjectResponse
	if err := c.do(ctx, http.MethodPost, "/v1/projects", api.CreateProjectRequest{Value: value}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProjects returns the caller's projects, newest first.
func (c *Client) ListProjects(ctx context.Context) ([]*api.Project, error) {
	var out api.ProjectList
	if err := c.do(ctx, http.MethodGet, "/v1/projects", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) GetProject(ctx context.Context, id string) (*api.Project, error) {
	var out api.Project
	if err := c.do(ctx, http.MethodGet, "/v1/projects/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage appends a prompt to a project.
func (c *Client) SendMessage(ctx context.Context, projectID, value string) (*api.CreateMessageResponse, error) {
	var out api.CreateMessageResponse
	path := "/v1/projects/" + url.PathEscape(projectID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, api.CreateMessageRequest{Value: value}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListMessages(ctx context.Context, projectID string) ([]*api.Message, error) {
	var out api.MessageList
	path := "/v1/projects/" + url.PathEscape(projectID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) GetRun(ctx context.Context, id string) (*api.Run, error) {
	var out api.Run
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

var errRunPending = errors.New("run pending")

// WaitRun polls a run every interval until it completes or fails. API
// errors end the wait; transport errors are retried until ctx is done.
func (c *Client) WaitRun(ctx context.Context, id string, interval time.Duration) (*api.Run, error) {
	var run *api.Run
	op := func() error {
		r, err := c.GetRun(ctx, id)
		if err != nil {
			var apiErr *api.APIError
			if errors.As(err, &apiErr) {
				return backoff.Permanent(err)
			}
			return err
		}
		run = r
		switch r.Status {
		case api.RunStatusCompleted, api.RunStatusFailed:
			return nil
		}
		return errRunPending
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)); err != nil {
		return run, fmt.Errorf("waiting for run %s: %w", id, err)
	}
	return run, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// decodeError turns a non-2xx response into an *api.APIError. Bodies that
// are not API errors, e.g. from a proxy, become server errors.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var e api.ErrorResponse
	if json.Unmarshal(data, &e) == nil && e.Error != nil {
		return e.Error
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &api.APIError{
		Type:    api.ErrorTypeServerError,
		Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg),
	}
}
