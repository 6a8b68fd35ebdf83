// Package integration runs the vibe API end to end: the HTTP adapter, the
// workflow dispatcher and the code agent, backed by a scripted model and a
// sandbox server working in a temporary directory. All servers run in
// process using net/http/httptest.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/auth"
	"github.com/rhuss/vibe/pkg/auth/apikey"
	"github.com/rhuss/vibe/pkg/codeagent"
	"github.com/rhuss/vibe/pkg/projects"
	"github.com/rhuss/vibe/pkg/provider"
	"github.com/rhuss/vibe/pkg/provider/mockbackend"
	"github.com/rhuss/vibe/pkg/provider/openai"
	"github.com/rhuss/vibe/pkg/sandbox"
	sandboxserver "github.com/rhuss/vibe/pkg/sandbox/server"
	"github.com/rhuss/vibe/pkg/step"
	"github.com/rhuss/vibe/pkg/storage/memory"
	"github.com/rhuss/vibe/pkg/transport"
	transporthttp "github.com/rhuss/vibe/pkg/transport/http"
	"github.com/rhuss/vibe/pkg/workflow"
)

const (
	aliceKey = "vk_alice_0123456789"
	bobKey   = "vk_bob_0123456789"
)

// testEnv holds the servers of one test.
type testEnv struct {
	API     *httptest.Server
	Model   *httptest.Server
	Sandbox *httptest.Server

	// Workspace is the sandbox server root.
	Workspace string
}

type envOptions struct {
	model   http.Handler
	maxIter int
}

// newEnv starts a complete stack. A nil model handler uses the scripted
// mock backend.
func newEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	if opts.model == nil {
		opts.model = mockbackend.NewHandler()
	}

	env := &testEnv{Workspace: t.TempDir()}
	env.Model = httptest.NewServer(opts.model)
	t.Cleanup(env.Model.Close)

	sbs, err := sandboxserver.New(sandboxserver.Config{Root: env.Workspace, Shell: "sh"})
	if err != nil {
		t.Fatalf("sandbox server: %v", err)
	}
	env.Sandbox = httptest.NewServer(sbs)
	t.Cleanup(env.Sandbox.Close)

	sandboxes, err := sandbox.NewStaticProvider(env.Sandbox.URL, "")
	if err != nil {
		t.Fatalf("sandbox provider: %v", err)
	}

	model, err := openai.New(provider.Config{
		Type:    provider.TypeOpenAI,
		BaseURL: env.Model.URL + "/v1",
		APIKey:  "test",
		Model:   "mock-model",
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("model: %v", err)
	}

	store := memory.New(100)
	fn, err := codeagent.New(codeagent.Config{
		Model:     model,
		Sandboxes: sandboxes,
		Store:     store,
		MaxIter:   opts.maxIter,
	})
	if err != nil {
		t.Fatalf("code agent: %v", err)
	}

	wfCfg := workflow.DefaultConfig()
	wfCfg.Workers = 2
	wfCfg.RetryInitialInterval = 10 * time.Millisecond
	wfCfg.RetryMaxInterval = 50 * time.Millisecond
	wf, err := workflow.New(wfCfg, step.NewMemoryJournal(), workflow.Recovery(), workflow.Logging(nil))
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if err := wf.Register(fn.Definition()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := wf.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = wf.Close(ctx)
	})

	keys, err := apikey.New(apikey.DefaultPrefix, []apikey.RawKeyEntry{
		{Key: aliceKey, Identity: auth.Identity{Subject: "alice", ServiceTier: "default"}},
		{Key: bobKey, Identity: auth.Identity{Subject: "bob", ServiceTier: "default"}},
	})
	if err != nil {
		t.Fatalf("api keys: %v", err)
	}
	chain := &auth.AuthChain{Authenticators: []auth.Authenticator{keys}, DefaultDecision: auth.No}

	cfg := transporthttp.DefaultConfig()
	cfg.Auth = auth.Middleware(chain, nil, auth.DefaultBypassEndpoints)
	cfg.Ready = map[string]transport.HealthChecker{"storage": store}
	adapter := transporthttp.NewAdapter(projects.New(store, wf, projects.Config{}), wf, cfg)
	env.API = httptest.NewServer(adapter.Handler())
	t.Cleanup(env.API.Close)
	return env
}

// do sends a request as the owner of key. An empty key sends none.
func (env *testEnv) do(t *testing.T, method, path, key string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req, err := http.NewRequest(method, env.API.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// expect checks the status and decodes the body into target, if non-nil.
func expect(t *testing.T, resp *http.Response, status int, target any) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != status {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		t.Fatalf("status = %d, want %d (error: %+v)", resp.StatusCode, status, e.Error)
	}
	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
}

// waitRun polls the run until it leaves the queued, running and retrying
// states.
func (env *testEnv) waitRun(t *testing.T, key, id string) api.Run {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		var run api.Run
		expect(t, env.do(t, http.MethodGet, "/v1/runs/"+id, key, nil), http.StatusOK, &run)
		switch run.Status {
		case api.RunStatusCompleted, api.RunStatusFailed:
			return run
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", id)
	return api.Run{}
}

func (env *testEnv) messages(t *testing.T, key, projectID string) []*api.Message {
	t.Helper()
	var list api.MessageList
	expect(t, env.do(t, http.MethodGet, "/v1/projects/"+projectID+"/messages", key, nil), http.StatusOK, &list)
	return list.Data
}
