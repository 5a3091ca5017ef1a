// Package checkpoint persists enrichment progress so long runs survive
// interruption. One checkpoint file per configuration fingerprint: re-running
// with identical configuration resumes the same file, while any configuration
// change hashes to a different filename and therefore a fresh run.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FailedItem records one provider failure without aborting the batch.
type FailedItem struct {
	Index int    `json:"index"`
	GUID  string `json:"guid"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// State is the durable snapshot of one enrichment run's progress. Owned by
// exactly one run; overwritten in place every checkpoint interval and at
// run completion.
type State struct {
	LastProcessedIndex int          `json:"lastProcessedIndex"`
	TotalProcessed     int          `json:"totalProcessed"`
	TotalFailed        int          `json:"totalFailed"`
	FailedItems        []FailedItem `json:"failedItems"`
	ConfigHash         string       `json:"configHash"`
}

// New returns an empty checkpoint stamped with the run's config hash.
func New(configHash string) *State {
	return &State{
		LastProcessedIndex: -1,
		FailedItems:        []FailedItem{},
		ConfigHash:         configHash,
	}
}

// ConfigHash fingerprints the enrichment configuration (provider toggles,
// rate-limit and retry settings). Two runs resume each other only when
// their fingerprints agree.
func ConfigHash(cfg any) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		// Config structs are plain data; Marshal only fails on types that
		// never appear in them.
		return "unhashable"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PathFor returns the checkpoint filename for a config hash. The hash is
// embedded in the name so changed configuration never collides with a
// prior checkpoint.
func PathFor(dir, configHash string) string {
	short := configHash
	if len(short) > 12 {
		short = short[:12]
	}
	return filepath.Join(dir, fmt.Sprintf("checkpoint-%s.json", short))
}

// Load reads a checkpoint. A missing or unreadable file yields nil: a
// fresh run starts from scratch rather than failing.
func Load(path string) *State {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	return &s
}

// Save persists the full state, replacing any prior checkpoint at path.
// The write is temp+rename so a crash mid-write cannot truncate the
// previous checkpoint.
func Save(path string, s *State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}
