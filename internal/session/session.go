// Package session tracks the session ordinal and the per-session activity
// counters that feed difficulty estimation. State is explicitly constructed
// and threaded to its consumers; nothing here is global.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/parkerhale/engram/pkg/atomicfile"
)

const stateFileMode = 0o644

// Counters accumulate activity within the current session.
type Counters struct {
	ToolFailures  int  `json:"tool_failures"`
	ToolSuccesses int  `json:"tool_successes"`
	Compacted     bool `json:"compacted"`
	SessionTokens int  `json:"session_tokens"`
}

// stateFile is the persisted shape of session state.
type stateFile struct {
	Version      int      `json:"version"`
	SessionCount int      `json:"session_count"`
	Current      Counters `json:"current"`
}

// Tracker owns the session ordinal and current-session counters, persisted
// to a single JSON file. Writes go through temp-and-rename like every other
// persisted structure, so a crash never corrupts the state.
type Tracker struct {
	path string

	mu    sync.Mutex
	state stateFile
}

// NewTracker loads (or initializes) session state at path.
func NewTracker(path string) (*Tracker, error) {
	t := &Tracker{path: path, state: stateFile{Version: 1}}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("session: reading state: %w", err)
		}
		return t, nil
	}
	if err := json.Unmarshal(data, &t.state); err != nil {
		return nil, fmt.Errorf("session: parsing state: %w", err)
	}
	return t, nil
}

// Current returns the current session ordinal. Implements store.SessionSource.
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.SessionCount
}

// Begin increments the session ordinal, clears the per-session counters, and
// persists. Returns the new ordinal.
func (t *Tracker) Begin() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.SessionCount++
	t.state.Current = Counters{}
	if err := t.saveLocked(); err != nil {
		return 0, err
	}
	return t.state.SessionCount, nil
}

// RecordToolResult counts one tool invocation and any tokens its output
// consumed.
func (t *Tracker) RecordToolResult(success bool, tokens int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if success {
		t.state.Current.ToolSuccesses++
	} else {
		t.state.Current.ToolFailures++
	}
	if tokens > 0 {
		t.state.Current.SessionTokens += tokens
	}
	return t.saveLocked()
}

// MarkCompacted flags that the session's context was compacted.
func (t *Tracker) MarkCompacted() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Current.Compacted = true
	return t.saveLocked()
}

// Counters returns a copy of the current-session counters.
func (t *Tracker) Counters() Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Current
}

// Reset clears the per-session counters without changing the ordinal.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Current = Counters{}
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding state: %w", err)
	}
	if err := atomicfile.WriteFile(t.path, append(data, '\n'), stateFileMode); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}
