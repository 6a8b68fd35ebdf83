package api

import "time"

// MessageRole identifies who authored a message.
type MessageRole string

const (
	RoleUser      MessageRole = "USER"
	RoleAssistant MessageRole = "ASSISTANT"
)

// MessageType distinguishes successful results from error reports.
type MessageType string

const (
	MessageTypeResult MessageType = "RESULT"
	MessageTypeError  MessageType = "ERROR"
)

// Project is a user-owned container for a conversation with the code agent.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn of a project conversation. Assistant messages with
// type RESULT carry the Fragment produced by the run.
type Message struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"project_id"`
	Content   string      `json:"content"`
	Role      MessageRole `json:"role"`
	Type      MessageType `json:"type"`
	Fragment  *Fragment   `json:"fragment,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Fragment is the artifact produced by a successful run: where to preview
// it, a short title, and the final path to content map.
type Fragment struct {
	ID         string            `json:"id"`
	MessageID  string            `json:"message_id"`
	SandboxURL string            `json:"sandbox_url"`
	Title      string            `json:"title"`
	Files      map[string]string `json:"files"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// RunInput is the event payload that starts a code-agent run.
type RunInput struct {
	Value     string `json:"value"`
	ProjectID string `json:"projectId"`
}

// RunResult is returned by a run that completed.
type RunResult struct {
	URL     string            `json:"url"`
	Title   string            `json:"title"`
	Files   map[string]string `json:"files"`
	Summary string            `json:"summary"`
}

// RunStatus is the lifecycle state of a dispatched run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusRetrying  RunStatus = "retrying"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run describes one execution of a workflow function.
type Run struct {
	ID         string     `json:"id"`
	FunctionID string     `json:"function_id"`
	EventID    string     `json:"event_id"`
	Status     RunStatus  `json:"status"`
	Attempts   int        `json:"attempts"`
	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// CreateProjectRequest starts a new project from a first prompt.
type CreateProjectRequest struct {
	Value string `json:"value"`
}

// CreateMessageRequest appends a user prompt to an existing project.
type CreateMessageRequest struct {
	Value string `json:"value"`
}

// ProjectList is the list envelope returned by GET /v1/projects.
type ProjectList struct {
	Object string     `json:"object"`
	Data   []*Project `json:"data"`
}

// MessageList is the list envelope returned by GET /v1/projects/{id}/messages.
type MessageList struct {
	Object string     `json:"object"`
	Data   []*Message `json:"data"`
}

// CreateProjectResponse is returned by POST /v1/projects. RunIDs identifies
// the code-agent runs started for the first prompt.
type CreateProjectResponse struct {
	*Project
	RunIDs []string `json:"run_ids,omitempty"`
}

// CreateMessageResponse is returned by POST /v1/projects/{id}/messages.
type CreateMessageResponse struct {
	*Message
	RunIDs []string `json:"run_ids,omitempty"`
}
