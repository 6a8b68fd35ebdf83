package integration

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/codeagent"
)

func TestProjectRunProducesFragment(t *testing.T) {
	env := newEnv(t, envOptions{})

	var created api.CreateProjectResponse
	expect(t, env.do(t, http.MethodPost, "/v1/projects", aliceKey,
		api.CreateProjectRequest{Value: "build a landing page"}), http.StatusCreated, &created)

	if created.UserID != "alice" {
		t.Errorf("user_id = %q, want alice", created.UserID)
	}
	if created.Name == "" {
		t.Error("project name is empty")
	}
	if len(created.RunIDs) != 1 {
		t.Fatalf("run_ids = %v, want one run", created.RunIDs)
	}

	run := env.waitRun(t, aliceKey, created.RunIDs[0])
	if run.Status != api.RunStatusCompleted {
		t.Fatalf("run status = %s (error %q)", run.Status, run.Error)
	}
	if run.FunctionID != codeagent.FunctionID {
		t.Errorf("function_id = %q", run.FunctionID)
	}

	msgs := env.messages(t, aliceKey, created.ID)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != api.RoleUser || msgs[0].Content != "build a landing page" {
		t.Errorf("first message = %+v", msgs[0])
	}

	reply := msgs[1]
	if reply.Role != api.RoleAssistant || reply.Type != api.MessageTypeResult {
		t.Fatalf("reply = %s/%s, want ASSISTANT/RESULT", reply.Role, reply.Type)
	}
	if reply.Content == "" {
		t.Error("reply content is empty")
	}
	frag := reply.Fragment
	if frag == nil {
		t.Fatal("reply has no fragment")
	}
	if frag.Title != "Build A Landing" {
		t.Errorf("title = %q", frag.Title)
	}
	if !strings.HasPrefix(frag.SandboxURL, "http://") || !strings.HasSuffix(frag.SandboxURL, ":3000") {
		t.Errorf("sandbox_url = %q", frag.SandboxURL)
	}
	page, ok := frag.Files["app/page.tsx"]
	if !ok || !strings.Contains(page, "build a landing page") {
		t.Errorf("files = %v", frag.Files)
	}

	onDisk, err := os.ReadFile(filepath.Join(env.Workspace, "app", "page.tsx"))
	if err != nil {
		t.Fatalf("reading sandbox file: %v", err)
	}
	if string(onDisk) != page {
		t.Error("sandbox file differs from fragment content")
	}
}

func TestFollowUpMessageStartsRun(t *testing.T) {
	env := newEnv(t, envOptions{})

	var created api.CreateProjectResponse
	expect(t, env.do(t, http.MethodPost, "/v1/projects", aliceKey,
		api.CreateProjectRequest{Value: "a counter"}), http.StatusCreated, &created)
	env.waitRun(t, aliceKey, created.RunIDs[0])

	var msg api.CreateMessageResponse
	expect(t, env.do(t, http.MethodPost, "/v1/projects/"+created.ID+"/messages", aliceKey,
		api.CreateMessageRequest{Value: "make it blue"}), http.StatusCreated, &msg)
	if msg.Role != api.RoleUser || msg.ProjectID != created.ID {
		t.Errorf("message = %+v", msg.Message)
	}
	if len(msg.RunIDs) != 1 {
		t.Fatalf("run_ids = %v", msg.RunIDs)
	}
	if run := env.waitRun(t, aliceKey, msg.RunIDs[0]); run.Status != api.RunStatusCompleted {
		t.Fatalf("run status = %s", run.Status)
	}

	msgs := env.messages(t, aliceKey, created.ID)
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	last := msgs[3]
	if last.Type != api.MessageTypeResult || last.Fragment == nil {
		t.Fatalf("last message = %+v", last)
	}
	if !strings.Contains(last.Fragment.Files["app/page.tsx"], "make it blue") {
		t.Errorf("page = %q", last.Fragment.Files["app/page.tsx"])
	}
}

// A model that never completes exhausts the iteration budget; the run
// still completes and the user sees the generic error message.
func TestExhaustedRunReportsError(t *testing.T) {
	chatter := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "mock-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "Still thinking."},
				"finish_reason": "stop",
			}},
		})
	})
	env := newEnv(t, envOptions{model: chatter, maxIter: 2})

	var created api.CreateProjectResponse
	expect(t, env.do(t, http.MethodPost, "/v1/projects", aliceKey,
		api.CreateProjectRequest{Value: "anything"}), http.StatusCreated, &created)
	if run := env.waitRun(t, aliceKey, created.RunIDs[0]); run.Status != api.RunStatusCompleted {
		t.Fatalf("run status = %s (error %q)", run.Status, run.Error)
	}

	msgs := env.messages(t, aliceKey, created.ID)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	got := msgs[1]
	if got.Type != api.MessageTypeError || got.Content != codeagent.ErrorMessage {
		t.Errorf("reply = %s %q", got.Type, got.Content)
	}
	if got.Fragment != nil {
		t.Error("error reply carries a fragment")
	}
}

func TestValidationErrors(t *testing.T) {
	env := newEnv(t, envOptions{})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"empty prompt", http.MethodPost, "/v1/projects", api.CreateProjectRequest{}, http.StatusBadRequest},
		{"unknown project", http.MethodGet, "/v1/projects/proj_aaaaaaaaaaaaaaaaaaaaaaaa", nil, http.StatusNotFound},
		{"unknown run", http.MethodGet, "/v1/runs/run_missing", nil, http.StatusNotFound},
		{"message to unknown project", http.MethodPost, "/v1/projects/proj_aaaaaaaaaaaaaaaaaaaaaaaa/messages",
			api.CreateMessageRequest{Value: "hi"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expect(t, env.do(t, tt.method, tt.path, aliceKey, tt.body), tt.status, nil)
		})
	}
}
