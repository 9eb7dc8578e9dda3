package poller

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State tracks which report tasks have already been processed, so
// overlapping sync windows never double-process a submission.
type State struct {
	LastRunAt time.Time `json:"last_run_at"`
	Processed []string  `json:"processed"`
	Errors    []string  `json:"errors"`

	path string // not serialized
}

// LoadState loads the sync state from disk, or starts fresh when the
// file is missing or unreadable.
func LoadState(path string) *State {
	state := &State{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return state
	}
	if err := json.Unmarshal(data, state); err != nil {
		return &State{path: path}
	}
	state.path = path
	return state
}

// Save persists the state to disk.
func (s *State) Save() error {
	s.LastRunAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(s.path, data, 0o644)
}

// IsProcessed reports whether the task id has been handled before.
func (s *State) IsProcessed(taskID string) bool {
	for _, id := range s.Processed {
		if id == taskID {
			return true
		}
	}
	return false
}

// MarkProcessed records a handled task id.
func (s *State) MarkProcessed(taskID string) {
	s.Processed = append(s.Processed, taskID)
}

// AddError records a per-task failure without stopping the run.
func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}
