// Package sandbox provides access to isolated execution environments that
// the code agent uses to run shell commands and edit project files.
//
// A [Provider] creates sandboxes from a template and reconnects to them by
// identifier. The identifier is the only state a run keeps between steps;
// every step reconnects instead of holding a live handle.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrFileNotFound is returned by ReadFile when the path does not exist.
	ErrFileNotFound = errors.New("sandbox: file not found")

	// ErrAtCapacity is returned when the sandbox refuses more concurrent commands.
	ErrAtCapacity = errors.New("sandbox: at capacity")

	// ErrUnknownSandbox is returned by Connect for identifiers the provider
	// never issued or that are no longer available.
	ErrUnknownSandbox = errors.New("sandbox: unknown sandbox")
)

// Provider creates and reconnects to sandboxes.
type Provider interface {
	// Create provisions a sandbox from template and returns its identifier.
	Create(ctx context.Context, template string) (string, error)

	// Connect returns a handle for an existing sandbox.
	Connect(ctx context.Context, id string) (Sandbox, error)
}

// Sandbox is a handle to one running sandbox.
type Sandbox interface {
	ID() string

	// RunCommand executes a shell command in the sandbox workspace. Output
	// chunks are delivered to the callbacks in opts as they arrive. A
	// non-zero exit status is reported as *CommandExitError.
	RunCommand(ctx context.Context, cmd string, opts CommandOptions) (*CommandResult, error)

	// WriteFile creates or replaces a file, creating parent directories.
	WriteFile(ctx context.Context, path, content string) error

	// ReadFile returns the content of a file or ErrFileNotFound.
	ReadFile(ctx context.Context, path string) (string, error)

	// Host returns the externally reachable host (with port) that forwards
	// to port inside the sandbox.
	Host(port int) string
}

// CommandOptions configures RunCommand.
type CommandOptions struct {
	OnStdout func(data string)
	OnStderr func(data string)
	// Timeout bounds execution inside the sandbox. Zero uses the server default.
	Timeout time.Duration
}

// CommandResult is the outcome of a command that exited with status 0.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// CommandExitError reports a command that ran but exited non-zero.
type CommandExitError struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.ExitCode)
}
