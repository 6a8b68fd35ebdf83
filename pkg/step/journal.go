package step

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Journal persists completed step results keyed by run and step ID.
// Implementations must be safe for concurrent use by multiple runs.
type Journal interface {
	// Load returns the recorded result of a step. The boolean is false when
	// the step has not completed in any earlier attempt.
	Load(ctx context.Context, runID, stepID string) (json.RawMessage, bool, error)

	// Save records the result of a completed step. Saving the same key
	// twice keeps the first result.
	Save(ctx context.Context, runID, stepID string, result json.RawMessage) error
}

// MemoryJournal is an in-process Journal. Results do not survive a restart.
// Entries are removed by Forget or PruneJournal.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries map[string]map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	result  json.RawMessage
	savedAt time.Time
}

// NewMemoryJournal creates an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]map[string]memoryEntry), now: time.Now}
}

// Load implements Journal.
func (j *MemoryJournal) Load(_ context.Context, runID, stepID string) (json.RawMessage, bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	e, ok := j.entries[runID][stepID]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), e.result...), true, nil
}

// Save implements Journal.
func (j *MemoryJournal) Save(_ context.Context, runID, stepID string, result json.RawMessage) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	steps, ok := j.entries[runID]
	if !ok {
		steps = make(map[string]memoryEntry)
		j.entries[runID] = steps
	}
	if _, exists := steps[stepID]; exists {
		return nil
	}
	steps[stepID] = memoryEntry{result: append(json.RawMessage(nil), result...), savedAt: j.now()}
	return nil
}

// Forget drops all entries for a run.
func (j *MemoryJournal) Forget(runID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, runID)
}

// PruneJournal deletes entries saved before the cutoff and returns how many
// were removed. Failed runs keep their entries for replay until then.
func (j *MemoryJournal) PruneJournal(_ context.Context, before time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var n int64
	for runID, steps := range j.entries {
		for stepID, e := range steps {
			if e.savedAt.Before(before) {
				delete(steps, stepID)
				n++
			}
		}
		if len(steps) == 0 {
			delete(j.entries, runID)
		}
	}
	return n, nil
}

// Len returns the number of recorded steps for a run.
func (j *MemoryJournal) Len(runID string) int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries[runID])
}
