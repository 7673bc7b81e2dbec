package bandit

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

	st := NewState()
	st.Weights["app_ide"] = 0.4
	st.Counts["app_ide"] = 3
	st.CumulativeReward["app_ide"] = 7.5
	st.InteractionCount = 3
	st.ColdStart = false

	if err := store.Save(st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, found, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatal("Load reported not found after Save")
	}
	if got.Weights["app_ide"] != 0.4 || got.Counts["app_ide"] != 3 || got.CumulativeReward["app_ide"] != 7.5 {
		t.Errorf("per-feature state mismatch: %+v", got)
	}
	if got.InteractionCount != 3 || got.ColdStart {
		t.Errorf("counters mismatch: interactions=%d coldStart=%v", got.InteractionCount, got.ColdStart)
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope", "state.json"))
	st, found, err := store.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if found {
		t.Error("found should be false for a missing file")
	}
	if !st.ColdStart {
		t.Error("missing file should yield the cold-start prior")
	}
	if st.Weights == nil || st.Counts == nil || st.CumulativeReward == nil {
		t.Error("prior state must have initialized maps")
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := NewFileStore(path).Load(); err == nil {
		t.Error("corrupt file should return an error")
	}
}

func TestFileStoreCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "state.json")
	if err := NewFileStore(path).Save(NewState()); err != nil {
		t.Fatalf("Save into missing directory: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("state file not created: %v", err)
	}
}

func TestFileStoreAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store := NewFileStore(path)

	first := NewState()
	first.InteractionCount = 1
	if err := store.Save(first); err != nil {
		t.Fatal(err)
	}
	second := NewState()
	second.InteractionCount = 2
	if err := store.Save(second); err != nil {
		t.Fatal(err)
	}

	got, _, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.InteractionCount != 2 {
		t.Errorf("InteractionCount = %d, want 2", got.InteractionCount)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory should hold only the state file, got %d entries", len(entries))
	}
}
