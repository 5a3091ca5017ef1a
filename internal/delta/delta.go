package delta

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultStatePath is where incremental state lives unless overridden by
// config or the --state-file flag.
const DefaultStatePath = ".imessage-state.json"

// State records the guids a prior run has already seen. One state file per
// logical pipeline, shared across runs.
type State struct {
	ProcessedGUIDs []string  `json:"processedGuids"`
	LastRun        time.Time `json:"lastRun"`
}

// GUIDSet returns the recorded guids as a set.
func (s *State) GUIDSet() map[string]bool {
	if s == nil {
		return nil
	}
	set := make(map[string]bool, len(s.ProcessedGUIDs))
	for _, g := range s.ProcessedGUIDs {
		set[g] = true
	}
	return set
}

// DetectNew returns the guids present in current but absent from prev, in
// sorted order. Pure set difference; no mutation, no I/O. With a nil prev
// every guid is new (the orchestrator decides what that means).
func DetectNew(current []string, prev *State) []string {
	seen := prev.GUIDSet()
	var out []string
	for _, g := range current {
		if !seen[g] {
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out
}

// Updated returns the state a finished run should persist: the union of
// the previous guid set and everything this run processed.
func Updated(prev *State, processed []string) *State {
	set := prev.GUIDSet()
	if set == nil {
		set = make(map[string]bool, len(processed))
	}
	for _, g := range processed {
		set[g] = true
	}
	guids := make([]string, 0, len(set))
	for g := range set {
		guids = append(guids, g)
	}
	sort.Strings(guids)
	return &State{ProcessedGUIDs: guids, LastRun: time.Now().UTC()}
}

// Load reads incremental state from path. A missing file is not an error;
// it returns nil state.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read incremental state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse incremental state %s: %w", path, err)
	}
	return &s, nil
}

// Save persists state to path via temp file + rename so a crash never
// leaves a truncated state file.
func Save(path string, s *State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal incremental state: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write incremental state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Reset removes the state file. Removing a file that does not exist is a
// no-op.
func Reset(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to reset incremental state: %w", err)
	}
	return nil
}
