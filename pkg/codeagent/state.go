package codeagent

import (
	"strings"

	"github.com/rhuss/vibe/pkg/agent"
)

// TaskSummaryMarker marks the agent's completion message.
const TaskSummaryMarker = "<task_summary>"

// Fallbacks used when a generator does not answer with text.
const (
	FallbackTitle    = "Fragment"
	FallbackResponse = "Here you go"
)

// ErrorMessage is the only failure text users see.
const ErrorMessage = "Something went wrong. Please try again."

// State is the shared state of one run. It is owned by the agent network
// and only touched from the goroutine running it.
type State struct {
	// Files maps sandbox paths to the last content written by the agent.
	Files map[string]string `json:"files"`

	// Summary is the first completion message of the agent, if any.
	Summary string `json:"summary,omitempty"`
}

// Failed reports whether the run produced nothing usable: the agent never
// completed or completed without writing files. Both cases are reported the
// same way.
func (s *State) Failed() bool {
	return s == nil || s.Summary == "" || len(s.Files) == 0
}

// recordSummary stores text as the summary if it carries the completion
// marker and no summary was recorded yet.
func (s *State) recordSummary(text string) bool {
	if s.Summary != "" || !strings.Contains(text, TaskSummaryMarker) {
		return false
	}
	s.Summary = text
	return true
}

// textOutput extracts the reply of a single-turn generator. A first output
// message that is not text yields fallback; text segments are joined.
func textOutput(res *agent.Result, fallback string) string {
	if res == nil || len(res.Output) == 0 {
		return fallback
	}
	first := res.Output[0]
	if first.Type != agent.MessageTypeText {
		return fallback
	}
	return first.Content.String()
}
