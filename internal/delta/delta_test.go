package delta

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestDetectNewSetDifference(t *testing.T) {
	prev := &State{ProcessedGUIDs: []string{"a", "b", "c"}}

	got := DetectNew([]string{"d", "b", "a", "e"}, prev)
	want := []string{"d", "e"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DetectNew = %v, want %v", got, want)
	}
}

func TestDetectNewSubsetIsEmpty(t *testing.T) {
	prev := &State{ProcessedGUIDs: []string{"a", "b", "c"}}
	if got := DetectNew([]string{"b", "a"}, prev); len(got) != 0 {
		t.Errorf("expected empty delta for subset, got %v", got)
	}
}

func TestDetectNewNilState(t *testing.T) {
	got := DetectNew([]string{"b", "a"}, nil)
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("nil previous state should mark everything new, got %v", got)
	}
}

func TestDetectNewEmptyCurrent(t *testing.T) {
	prev := &State{ProcessedGUIDs: []string{"a"}}
	if got := DetectNew(nil, prev); len(got) != 0 {
		t.Errorf("expected empty delta for empty current set, got %v", got)
	}
}

func TestUpdatedUnions(t *testing.T) {
	prev := &State{ProcessedGUIDs: []string{"a", "b"}}
	st := Updated(prev, []string{"b", "c"})

	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(st.ProcessedGUIDs, want) {
		t.Errorf("Updated guids = %v, want %v", st.ProcessedGUIDs, want)
	}
	if st.LastRun.IsZero() {
		t.Errorf("Updated should stamp LastRun")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st := &State{
		ProcessedGUIDs: []string{"a", "b"},
		LastRun:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := Save(path, st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(loaded.ProcessedGUIDs, st.ProcessedGUIDs) {
		t.Errorf("round trip guids = %v, want %v", loaded.ProcessedGUIDs, st.ProcessedGUIDs)
	}
	if !loaded.LastRun.Equal(st.LastRun) {
		t.Errorf("round trip LastRun = %v, want %v", loaded.LastRun, st.LastRun)
	}
}

func TestLoadMissingFile(t *testing.T) {
	st, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing state file should not be an error: %v", err)
	}
	if st != nil {
		t.Errorf("expected nil state for missing file, got %+v", st)
	}
}

func TestReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := Save(path, &State{ProcessedGUIDs: []string{"a"}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := Reset(path); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("state file should be gone after reset")
	}
	// Resetting again is a no-op.
	if err := Reset(path); err != nil {
		t.Errorf("second reset should be a no-op: %v", err)
	}
}
