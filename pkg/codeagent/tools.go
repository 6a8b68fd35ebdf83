package codeagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/rhuss/vibe/pkg/agent"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/sandbox"
	"github.com/rhuss/vibe/pkg/step"
)

var (
	terminalParams = json.RawMessage(`{
  "type": "object",
  "properties": {"command": {"type": "string", "description": "Shell command to run in the project directory"}},
  "required": ["command"]
}`)

	writeFilesParams = json.RawMessage(`{
  "type": "object",
  "properties": {
    "files": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {"path": {"type": "string"}, "content": {"type": "string"}},
        "required": ["path", "content"]
      }
    }
  },
  "required": ["files"]
}`)

	readFilesParams = json.RawMessage(`{
  "type": "object",
  "properties": {"files": {"type": "array", "items": {"type": "string"}}},
  "required": ["files"]
}`)
)

// SandboxTools names the tools every code agent run gets. Extra tools must
// not reuse them.
var SandboxTools = []string{"terminal", "createOrUpdateFiles", "readFiles"}

type terminalArgs struct {
	Command string `json:"command"`
}

type fileArg struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type writeFilesArgs struct {
	Files []fileArg `json:"files"`
}

type readFilesArgs struct {
	Files []string `json:"files"`
}

// writeResult is the journaled outcome of createOrUpdateFiles. Exactly one
// field is set.
type writeResult struct {
	Files map[string]string `json:"files,omitempty"`
	Error string            `json:"error,omitempty"`
}

// toolbox builds the sandbox tools of one run.
type toolbox struct {
	sandboxes      sandbox.Provider
	sandboxID      string
	commandTimeout time.Duration
}

func (tb *toolbox) connect(ctx context.Context) (sandbox.Sandbox, error) {
	return tb.sandboxes.Connect(ctx, tb.sandboxID)
}

func (tb *toolbox) tools() []agent.Tool[State] {
	return []agent.Tool[State]{
		{
			Name:        "terminal",
			Description: "Use the terminal to run commands",
			Parameters:  terminalParams,
			Handler:     tb.terminal,
		},
		{
			Name:        "createOrUpdateFiles",
			Description: "Create or update files in the sandbox",
			Parameters:  writeFilesParams,
			Handler:     tb.createOrUpdateFiles,
		},
		{
			Name:        "readFiles",
			Description: "Read files from the sandbox",
			Parameters:  readFilesParams,
			Handler:     tb.readFiles,
		},
	}
}

// terminal runs a command and returns its stdout. Failures are returned as
// text so the agent can react to them.
func (tb *toolbox) terminal(ctx context.Context, raw json.RawMessage, tc *agent.ToolContext[State]) (any, error) {
	args, err := agent.DecodeArgs[terminalArgs](raw)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Command) == "" {
		return nil, errors.New("command is required")
	}

	return step.Run(ctx, tc.Step, "terminal", func(ctx context.Context) (string, error) {
		var stdout, stderr strings.Builder
		sb, err := tb.connect(ctx)
		if err == nil {
			var res *sandbox.CommandResult
			res, err = sb.RunCommand(ctx, args.Command, sandbox.CommandOptions{
				OnStdout: func(s string) { stdout.WriteString(s) },
				OnStderr: func(s string) { stderr.WriteString(s) },
				Timeout:  tb.commandTimeout,
			})
			if err == nil {
				return res.Stdout, nil
			}
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		debug.Log("tools", "command failed", "command", args.Command, "error", err)
		return fmt.Sprintf("Command failed: %v\nstdout: %s\nstderr: %s", err, stdout.String(), stderr.String()), nil
	})
}

// createOrUpdateFiles writes files and replaces the shared file map with
// the updated copy. On failure the map is left as it was; files written
// before the failure stay in the sandbox.
func (tb *toolbox) createOrUpdateFiles(ctx context.Context, raw json.RawMessage, tc *agent.ToolContext[State]) (any, error) {
	args, err := agent.DecodeArgs[writeFilesArgs](raw)
	if err != nil {
		return nil, err
	}

	current := tc.State.Files
	res, err := step.Run(ctx, tc.Step, "createOrUpdateFiles", func(ctx context.Context) (writeResult, error) {
		files := maps.Clone(current)
		if files == nil {
			files = make(map[string]string, len(args.Files))
		}
		sb, err := tb.connect(ctx)
		if err == nil {
			for _, f := range args.Files {
				if err = sb.WriteFile(ctx, f.Path, f.Content); err != nil {
					break
				}
				files[f.Path] = f.Content
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return writeResult{}, ctx.Err()
			}
			return writeResult{Error: "Error: " + err.Error()}, nil
		}
		return writeResult{Files: files}, nil
	})
	if err != nil {
		return nil, err
	}
	if res.Error != "" {
		return res.Error, nil
	}

	tc.State.Files = res.Files
	if tc.State.Files == nil {
		tc.State.Files = map[string]string{}
	}
	return nil, nil
}

// readFiles returns the JSON list of {path, content} for the requested
// files.
func (tb *toolbox) readFiles(ctx context.Context, raw json.RawMessage, tc *agent.ToolContext[State]) (any, error) {
	args, err := agent.DecodeArgs[readFilesArgs](raw)
	if err != nil {
		return nil, err
	}

	return step.Run(ctx, tc.Step, "readFiles", func(ctx context.Context) (string, error) {
		contents := make([]fileArg, 0, len(args.Files))
		sb, err := tb.connect(ctx)
		if err == nil {
			for _, path := range args.Files {
				var content string
				if content, err = sb.ReadFile(ctx, path); err != nil {
					break
				}
				contents = append(contents, fileArg{Path: path, Content: content})
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "Error: " + err.Error(), nil
		}
		b, err := json.Marshal(contents)
		if err != nil {
			return "", err
		}
		return string(b), nil
	})
}
