package bandit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// State is the policy's persisted learning state: three parallel mappings
// keyed by feature name, an interaction counter, and the cold-start flag.
// It survives restarts; everything else in the policy is derived.
type State struct {
	Weights          map[string]float64 `json:"weights"`
	Counts           map[string]int     `json:"counts"`
	CumulativeReward map[string]float64 `json:"cumulative_reward"`
	InteractionCount int                `json:"interaction_count"`
	ColdStart        bool               `json:"cold_start"`
}

// NewState returns the all-default prior: empty mappings, cold start on.
func NewState() State {
	return State{
		Weights:          make(map[string]float64),
		Counts:           make(map[string]int),
		CumulativeReward: make(map[string]float64),
		ColdStart:        true,
	}
}

// clone returns a deep copy, for snapshots handed outside the lock.
func (s State) clone() State {
	c := State{
		Weights:          make(map[string]float64, len(s.Weights)),
		Counts:           make(map[string]int, len(s.Counts)),
		CumulativeReward: make(map[string]float64, len(s.CumulativeReward)),
		InteractionCount: s.InteractionCount,
		ColdStart:        s.ColdStart,
	}
	for k, v := range s.Weights {
		c.Weights[k] = v
	}
	for k, v := range s.Counts {
		c.Counts[k] = v
	}
	for k, v := range s.CumulativeReward {
		c.CumulativeReward[k] = v
	}
	return c
}

// normalize initializes nil maps after JSON decoding.
func (s *State) normalize() {
	if s.Weights == nil {
		s.Weights = make(map[string]float64)
	}
	if s.Counts == nil {
		s.Counts = make(map[string]int)
	}
	if s.CumulativeReward == nil {
		s.CumulativeReward = make(map[string]float64)
	}
}

// Store persists policy state.
type Store interface {
	// Load reads the persisted state. found is false when none exists yet;
	// a read or parse failure is returned as err.
	Load() (state State, found bool, err error)
	// Save durably replaces the persisted state.
	Save(State) error
}

// FileStore persists state as a single JSON file with atomic
// replace-of-whole-file semantics: losing the latest increment on crash is
// acceptable, a torn write is not.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (State, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return NewState(), false, nil
	}
	if err != nil {
		return NewState(), false, fmt.Errorf("reading policy state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return NewState(), false, fmt.Errorf("parsing policy state: %w", err)
	}
	st.normalize()
	return st, true, nil
}

func (s *FileStore) Save(st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding policy state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	// Write-then-rename in the same directory keeps the replace atomic.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".bandit_state-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
