package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rhuss/vibe/pkg/api"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", WithToken("vk_test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRejectsInvalidURL(t *testing.T) {
	for _, u := range []string{"", "localhost:8080", "://x"} {
		if _, err := New(u); err == nil {
			t.Errorf("New(%q) succeeded", u)
		}
	}
}

func TestCreateProject(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/projects" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer vk_test" {
			t.Errorf("Authorization = %q", got)
		}
		var req api.CreateProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value != "a todo app" {
			t.Errorf("body = %+v, %v", req, err)
		}
		writeJSON(w, http.StatusCreated, api.CreateProjectResponse{
			Project: &api.Project{ID: "proj_1", Name: "brave-otter"},
			RunIDs:  []string{"run_1"},
		})
	}))

	resp, err := c.CreateProject(context.Background(), "a todo app")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if resp.ID != "proj_1" || resp.Name != "brave-otter" || len(resp.RunIDs) != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestListAndGet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/projects", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, api.ProjectList{Object: "list", Data: []*api.Project{{ID: "proj_1"}, {ID: "proj_2"}}})
	})
	mux.HandleFunc("GET /v1/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.Project{ID: r.PathValue("id")})
	})
	mux.HandleFunc("GET /v1/projects/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.MessageList{Object: "list", Data: []*api.Message{
			{ID: "msg_1", ProjectID: r.PathValue("id"), Role: api.RoleUser},
		}})
	})
	mux.HandleFunc("POST /v1/projects/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var req api.CreateMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, http.StatusCreated, api.CreateMessageResponse{
			Message: &api.Message{ID: "msg_2", ProjectID: r.PathValue("id"), Content: req.Value},
			RunIDs:  []string{"run_2"},
		})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	projects, err := c.ListProjects(ctx)
	if err != nil || len(projects) != 2 {
		t.Fatalf("ListProjects = %v, %v", projects, err)
	}
	p, err := c.GetProject(ctx, "proj_2")
	if err != nil || p.ID != "proj_2" {
		t.Fatalf("GetProject = %+v, %v", p, err)
	}
	msgs, err := c.ListMessages(ctx, "proj_2")
	if err != nil || len(msgs) != 1 || msgs[0].ProjectID != "proj_2" {
		t.Fatalf("ListMessages = %v, %v", msgs, err)
	}
	sent, err := c.SendMessage(ctx, "proj_2", "more color")
	if err != nil || sent.Content != "more color" || sent.RunIDs[0] != "run_2" {
		t.Fatalf("SendMessage = %+v, %v", sent, err)
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType api.ErrorType
	}{
		{"api error", http.StatusNotFound, `{"error":{"type":"not_found","message":"project \"x\" not found"}}`, api.ErrorTypeNotFound},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"type":"unauthorized","message":"authentication required"}}`, api.ErrorTypeUnauthorized},
		{"plain text", http.StatusBadGateway, "upstream down", api.ErrorTypeServerError},
		{"empty body", http.StatusInternalServerError, "", api.ErrorTypeServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			_, err := c.GetProject(context.Background(), "x")
			var apiErr *api.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *api.APIError", err)
			}
			if apiErr.Type != tt.wantType {
				t.Errorf("type = %s, want %s", apiErr.Type, tt.wantType)
			}
		})
	}
}

func TestWaitRun(t *testing.T) {
	var polls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := api.RunStatusRunning
		if polls.Add(1) >= 3 {
			status = api.RunStatusCompleted
		}
		writeJSON(w, http.StatusOK, api.Run{ID: "run_1", Status: status})
	}))

	run, err := c.WaitRun(context.Background(), "run_1", time.Millisecond)
	if err != nil {
		t.Fatalf("WaitRun: %v", err)
	}
	if run.Status != api.RunStatusCompleted || polls.Load() != 3 {
		t.Errorf("status = %s after %d polls", run.Status, polls.Load())
	}
}

func TestWaitRunStopsOnAPIError(t *testing.T) {
	var polls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		polls.Add(1)
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: api.NewNotFoundError("run not found")})
	}))

	_, err := c.WaitRun(context.Background(), "run_x", time.Millisecond)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeNotFound {
		t.Fatalf("err = %v", err)
	}
	if polls.Load() != 1 {
		t.Errorf("polled %d times, want 1", polls.Load())
	}
}

func TestWaitRunHonorsContext(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, api.Run{ID: "run_1", Status: api.RunStatusQueued})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	run, err := c.WaitRun(ctx, "run_1", 5*time.Millisecond)
	if err == nil {
		t.Fatal("WaitRun returned without error")
	}
	if run == nil || run.Status != api.RunStatusQueued {
		t.Errorf("last run = %+v", run)
	}
}
