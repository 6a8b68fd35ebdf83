package codeagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rhuss/vibe/pkg/agent"
	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/sandbox"
)

const testSandboxID = "sbx_test"

// fakeSandboxes is an in-memory sandbox provider with one sandbox.
type fakeSandboxes struct {
	mu        sync.Mutex
	created   int
	files     map[string]string
	commands  []string
	failWrite map[string]error
	run       func(cmd string, opts sandbox.CommandOptions) (*sandbox.CommandResult, error)
}

func newFakeSandboxes() *fakeSandboxes {
	return &fakeSandboxes{files: map[string]string{}, failWrite: map[string]error{}}
}

func (p *fakeSandboxes) Create(context.Context, string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created++
	return testSandboxID, nil
}

func (p *fakeSandboxes) Connect(_ context.Context, id string) (sandbox.Sandbox, error) {
	if id != testSandboxID {
		return nil, sandbox.ErrUnknownSandbox
	}
	return &fakeSandbox{p: p}, nil
}

type fakeSandbox struct{ p *fakeSandboxes }

func (s *fakeSandbox) ID() string { return testSandboxID }

func (s *fakeSandbox) RunCommand(_ context.Context, cmd string, opts sandbox.CommandOptions) (*sandbox.CommandResult, error) {
	s.p.mu.Lock()
	s.p.commands = append(s.p.commands, cmd)
	run := s.p.run
	s.p.mu.Unlock()
	if run != nil {
		return run(cmd, opts)
	}
	return &sandbox.CommandResult{Stdout: "ok\n"}, nil
}

func (s *fakeSandbox) WriteFile(_ context.Context, path, content string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if err := s.p.failWrite[path]; err != nil {
		return err
	}
	s.p.files[path] = content
	return nil
}

func (s *fakeSandbox) ReadFile(_ context.Context, path string) (string, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	content, ok := s.p.files[path]
	if !ok {
		return "", sandbox.ErrFileNotFound
	}
	return content, nil
}

func (s *fakeSandbox) Host(port int) string {
	return fmt.Sprintf("%d-%s.sandbox.test", port, testSandboxID)
}

// fakeStore records persisted messages.
type fakeStore struct {
	mu       sync.Mutex
	messages []*api.Message
	failures int
}

func (s *fakeStore) CreateMessage(_ context.Context, msg *api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("database unavailable")
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeStore) only(t *testing.T) *api.Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) != 1 {
		t.Fatalf("persisted %d messages, want exactly 1", len(s.messages))
	}
	return s.messages[0]
}

// scriptedModel answers inference i with script(i) and records requests.
type scriptedModel struct {
	mu       sync.Mutex
	requests []*agent.InferRequest
	script   func(i int) *agent.InferResponse
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) Infer(_ context.Context, req *agent.InferRequest) (*agent.InferResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return m.script(len(m.requests) - 1), nil
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// steps returns a model that plays responses in order and then repeats
// the last one.
func steps(responses ...*agent.InferResponse) *scriptedModel {
	return &scriptedModel{script: func(i int) *agent.InferResponse {
		if i >= len(responses) {
			i = len(responses) - 1
		}
		return responses[i]
	}}
}

func reply(text string) *agent.InferResponse {
	return &agent.InferResponse{Output: []agent.Message{agent.AssistantMessage(text)}}
}

type call struct {
	name string
	args any
}

func callTool(name string, args any) *agent.InferResponse {
	return callTools(call{name, args})
}

// callTools requests calls, in order, in one response.
func callTools(calls ...call) *agent.InferResponse {
	msg := agent.Message{Type: agent.MessageTypeToolCall, Role: agent.RoleAssistant}
	for i, c := range calls {
		args, _ := json.Marshal(c.args)
		msg.ToolCalls = append(msg.ToolCalls, agent.ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      c.name,
			Arguments: args,
		})
	}
	return &agent.InferResponse{Output: []agent.Message{msg}}
}

func writeFiles(files ...string) map[string]any {
	var list []map[string]string
	for i := 0; i+1 < len(files); i += 2 {
		list = append(list, map[string]string{"path": files[i], "content": files[i+1]})
	}
	return map[string]any{"files": list}
}

// toolResults returns the tool result messages the model saw in its
// request number i.
func (m *scriptedModel) toolResults(i int) []agent.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []agent.Message
	for _, msg := range m.requests[i].Messages {
		if msg.Type == agent.MessageTypeToolResult {
			out = append(out, msg)
		}
	}
	return out
}
