package agent

import (
	"context"
	"encoding/json"
)

// ToolSpec describes a tool to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Usage reports token consumption of one inference.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// InferRequest is the input of one model inference.
type InferRequest struct {
	System   string
	Messages []Message
	Tools    []ToolSpec
}

// InferResponse is the output of one model inference. It is journaled as a
// step result, so it must round-trip through JSON.
type InferResponse struct {
	Model  string    `json:"model,omitempty"`
	Output []Message `json:"output"`
	Usage  Usage     `json:"usage"`
}

// Model is an LLM backend.
type Model interface {
	// Name returns the model identifier used for metrics and logs.
	Name() string

	// Infer runs one completion over req.
	Infer(ctx context.Context, req *InferRequest) (*InferResponse, error)
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, req *InferRequest) (*InferResponse, error)

// Name returns "func".
func (f ModelFunc) Name() string { return "func" }

// Infer calls f.
func (f ModelFunc) Infer(ctx context.Context, req *InferRequest) (*InferResponse, error) {
	return f(ctx, req)
}
