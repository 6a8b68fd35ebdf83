package api

import "fmt"

// ValidateRunTransition checks whether a run status transition is valid.
// An empty "from" status represents a run that has not been recorded yet.
// Completed and failed runs are terminal.
func ValidateRunTransition(from, to RunStatus) *APIError {
	valid := map[RunStatus][]RunStatus{
		"":                {RunStatusQueued},
		RunStatusQueued:   {RunStatusRunning, RunStatusFailed},
		RunStatusRunning:  {RunStatusCompleted, RunStatusFailed, RunStatusRetrying},
		RunStatusRetrying: {RunStatusRunning, RunStatusFailed},
	}

	allowed, exists := valid[from]
	if !exists {
		return NewInvalidRequestError("status",
			fmt.Sprintf("invalid transition from %s to %s", from, to))
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return NewInvalidRequestError("status",
		fmt.Sprintf("invalid transition from %s to %s", from, to))
}

// Terminal reports whether no further transitions are allowed from s.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}
