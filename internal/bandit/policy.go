// Package bandit implements the online-learning interruption policy: a
// per-feature linear model with pseudo-Thompson-sampling exploration. Each
// feature's weight independently tracks whether its presence correlates with
// positive outcomes, which trades statistical purity for interpretability
// and trivial incremental updates.
package bandit

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okranz/nudged/internal/confusion"
)

// Action is a user reaction to a shown (or would-have-shown) suggestion.
type Action string

const (
	ActionImmediateDismiss Action = "immediate_dismiss"
	ActionDismiss          Action = "dismiss"
	ActionIgnore           Action = "ignore"
	ActionHover            Action = "hover"
	ActionExpand           Action = "expand"
	ActionCopy             Action = "copy"
	ActionClick            Action = "click"
	ActionSave             Action = "save"
)

// rewardTable maps each action to its fixed scalar reward.
var rewardTable = map[Action]float64{
	ActionImmediateDismiss: -5.0,
	ActionDismiss:          -1.0,
	ActionIgnore:           -0.5,
	ActionHover:            1.0,
	ActionExpand:           2.0,
	ActionCopy:             5.0,
	ActionClick:            5.0,
	ActionSave:             5.0,
}

// RewardFor returns the fixed reward for an action. ok is false for actions
// outside the closed set.
func RewardFor(a Action) (reward float64, ok bool) {
	reward, ok = rewardTable[a]
	return reward, ok
}

// Outcome is one observed user reaction, carrying enough of the decision
// context to rebuild the feature vector deterministically at ingest time.
type Outcome struct {
	SuggestionID string           `json:"suggestion_id"`
	Action       Action           `json:"action"`
	DwellMillis  int              `json:"dwell_millis,omitempty"`
	Context      string           `json:"context"`
	Signal       confusion.Signal `json:"confusion_signal,omitempty"`
	Score        float64          `json:"confusion_score,omitempty"`
	AppID        string           `json:"app_id,omitempty"`
	ObservedAt   time.Time        `json:"observed_at"`
}

// Config holds the policy's tunable parameters.
type Config struct {
	// DefaultWeight is the lazy prior for a feature's weight before its
	// first observation.
	DefaultWeight float64
	// ColdStartBudget is the number of interactions after which the
	// cold-start flag permanently flips off.
	ColdStartBudget int
}

// DefaultConfig returns the shipped policy parameters.
func DefaultConfig() Config {
	return Config{
		DefaultWeight:   0.1,
		ColdStartBudget: 50,
	}
}

// Policy is the contextual bandit. Score reads may interleave freely;
// Ingest executes as one serialized read-modify-write-persist unit so two
// concurrent outcomes never interleave their per-feature increments.
type Policy struct {
	cfg   Config
	store Store

	mu      sync.Mutex
	state   State
	uniform func() float64 // uniform [0,1); injectable for tests
}

// New creates a policy backed by store. A missing state file starts from
// the all-default prior; a corrupt one is discarded with a warning. Neither
// is fatal.
func New(cfg Config, store Store) *Policy {
	state, found, err := store.Load()
	if err != nil {
		slog.Warn("discarding unreadable policy state, starting fresh", "error", err)
		state = NewState()
	} else if found {
		slog.Info("loaded policy state",
			"interactions", state.InteractionCount, "cold_start", state.ColdStart)
	}
	return &Policy{
		cfg:     cfg,
		store:   store,
		state:   state,
		uniform: rand.Float64,
	}
}

// Score maps a feature vector to an interruption probability in [0,1].
// Each observed feature contributes its empirical mean reward perturbed by
// an uncertainty term that shrinks as evidence accumulates; the perturbation
// is the exploration mechanism, so output is non-deterministic by design.
func (p *Policy) Score(fv FeatureVector) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	prob := 0.5
	for _, f := range fv {
		n := p.state.Counts[f.Name]
		if n == 0 {
			continue
		}
		mean := p.state.CumulativeReward[f.Name] / float64(n)
		uncertainty := 1 / math.Sqrt(float64(n)+1)
		sample := mean + (p.uniform()*2-1)*uncertainty
		w, ok := p.state.Weights[f.Name]
		if !ok {
			w = p.cfg.DefaultWeight
		}
		prob += sample * f.Value * w
	}
	return clamp01(prob)
}

// Ingest attributes the outcome's reward to every active feature of the
// recomputed vector, updates the per-feature averaged weights, advances the
// interaction counter, and persists the whole state atomically. A failed
// persistence write is logged and absorbed; the next successful write
// catches up.
func (p *Policy) Ingest(o Outcome) error {
	reward, ok := RewardFor(o.Action)
	if !ok {
		return fmt.Errorf("unknown outcome action %q", o.Action)
	}

	fv := Features(Inputs{
		Now:     o.ObservedAt,
		AppID:   o.AppID,
		Signal:  o.Signal,
		Score:   o.Score,
		Context: o.Context,
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	target := -1.0
	if reward > 0 {
		target = 1.0
	}
	for _, f := range fv {
		if f.Value <= 0.5 {
			continue
		}
		p.state.Counts[f.Name]++
		p.state.CumulativeReward[f.Name] += reward

		// Robbins-Monro averaging with a decaying learning rate.
		lr := 1 / float64(p.state.Counts[f.Name])
		w, seen := p.state.Weights[f.Name]
		if !seen {
			w = p.cfg.DefaultWeight
		}
		p.state.Weights[f.Name] = w + lr*(target-w)
	}

	p.state.InteractionCount++
	if p.state.ColdStart && p.state.InteractionCount >= p.cfg.ColdStartBudget {
		p.state.ColdStart = false
		slog.Info("cold start complete, policy decisions now apply",
			"interactions", p.state.InteractionCount)
	}

	if err := p.store.Save(p.state); err != nil {
		slog.Warn("persisting policy state failed, keeping in-memory state", "error", err)
	}
	return nil
}

// ColdStart reports whether the policy is still in its shadow phase.
func (p *Policy) ColdStart() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.ColdStart
}

// InteractionCount returns the number of outcomes ingested over the life of
// the persisted state.
func (p *Policy) InteractionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.InteractionCount
}

// Snapshot returns a deep copy of the current state.
func (p *Policy) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.clone()
}
