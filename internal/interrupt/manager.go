// Package interrupt orchestrates the three-layer decision cascade: the flow
// gate gets an absolute veto, the confusion detector gates on evidence of
// struggle, and the learned policy makes the final call. Layers are cheap to
// expensive and each can end the cascade early.
package interrupt

import (
	"context"
	"log/slog"
	"time"

	"github.com/okranz/nudged/internal/bandit"
	"github.com/okranz/nudged/internal/confusion"
	"github.com/okranz/nudged/internal/gate"
	"github.com/okranz/nudged/internal/signals"
)

// Layer identifies which cascade layer produced a decision.
type Layer string

const (
	LayerGate     Layer = "gate"
	LayerDetector Layer = "detector"
	LayerBandit   Layer = "bandit"
)

// Decision is the manager's verdict for one decision request. When
// ShouldInterrupt is true the caller is expected to show the suggestion and
// later report the user's reaction.
type Decision struct {
	ShouldInterrupt bool             `json:"should_interrupt"`
	WouldHaveShown  bool             `json:"would_have_shown,omitempty"`
	Confidence      float64          `json:"confidence"`
	Reason          string           `json:"reason"`
	Layer           Layer            `json:"layer"`
	Signal          confusion.Signal `json:"confusion_signal,omitempty"`
	ConfusionScore  float64          `json:"confusion_score,omitempty"`
	Probability     float64          `json:"probability,omitempty"`
	AppID           string           `json:"app_id,omitempty"`
	At              time.Time        `json:"at"`
}

// Status is a point-in-time view of the cascade's cheap layers, refreshed by
// the background poll. It never consults the policy: polling must not burn
// exploration randomness or skew learning.
type Status struct {
	At             time.Time        `json:"at"`
	CanInterrupt   bool             `json:"can_interrupt"`
	Confidence     float64          `json:"confidence"`
	Gate           gate.Decision    `json:"gate"`
	CharsPerMinute float64          `json:"chars_per_minute"`
	Confusion      confusion.Result `json:"confusion"`
	ColdStart      bool             `json:"cold_start"`
	Interactions   int              `json:"interactions"`
}

// GateEvaluator is the hard-rule veto layer.
type GateEvaluator interface {
	Evaluate() gate.Decision
	CharsPerMinute() float64
}

// ConfusionSource is the heuristic struggle-evidence layer.
type ConfusionSource interface {
	Detect() confusion.Result
}

// Policy is the learned scoring layer.
type Policy interface {
	Score(bandit.FeatureVector) float64
	ColdStart() bool
	InteractionCount() int
}

// AppSource supplies the frontmost app for feature extraction.
type AppSource interface {
	Current() (signals.App, bool)
}

// OutcomeQueue accepts outcomes for durable asynchronous application.
type OutcomeQueue interface {
	Enqueue(ctx context.Context, o bandit.Outcome) error
}

// Config holds the manager's thresholds.
type Config struct {
	// DecisionThreshold is the probability the policy must exceed when
	// confusion evidence is present.
	DecisionThreshold float64
	// ProactiveThreshold is the stricter bar applied when no confusion
	// signal fired but proactive suggestions are allowed.
	ProactiveThreshold float64
	// ConfusionOptional permits interrupting without confusion evidence,
	// at the proactive threshold.
	ConfusionOptional bool
	// ForceProactive drops the stricter proactive bar back to the normal
	// decision threshold. Meant for tuning sessions, not daily use.
	ForceProactive bool
	// StatusInterval is the background poll cadence.
	StatusInterval time.Duration
}

// DefaultConfig returns the shipped thresholds.
func DefaultConfig() Config {
	return Config{
		DecisionThreshold:  0.5,
		ProactiveThreshold: 0.75,
		ConfusionOptional:  true,
		StatusInterval:     2 * time.Second,
	}
}

// Manager runs the cascade.
type Manager struct {
	cfg      Config
	gate     GateEvaluator
	detector ConfusionSource
	policy   Policy
	apps     AppSource
	queue    OutcomeQueue
	clock    signals.Clock
}

// New assembles a manager. clock may be nil, defaulting to time.Now.
func New(cfg Config, g GateEvaluator, d ConfusionSource, p Policy, apps AppSource, queue OutcomeQueue, clock signals.Clock) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		cfg:      cfg,
		gate:     g,
		detector: d,
		policy:   p,
		apps:     apps,
		queue:    queue,
		clock:    clock,
	}
}

// Decide runs the full cascade for a suggestion with the given context text.
func (m *Manager) Decide(suggestionContext string) Decision {
	now := m.clock()

	if gd := m.gate.Evaluate(); gd.Blocked {
		return Decision{
			Confidence: 1.0,
			Reason:     "Blocked: " + gd.Reason.Description(),
			Layer:      LayerGate,
			At:         now,
		}
	}

	var appID string
	if app, ok := m.apps.Current(); ok {
		appID = app.BundleID
	}

	result := m.detector.Detect()
	fv := bandit.Features(bandit.Inputs{
		Now:     now,
		AppID:   appID,
		Signal:  result.Signal,
		Score:   result.Score,
		Context: suggestionContext,
	})
	prob := m.policy.Score(fv)

	d := Decision{
		Signal:         result.Signal,
		ConfusionScore: result.Score,
		Probability:    prob,
		AppID:          appID,
		At:             now,
	}

	// During cold start the policy scores in shadow mode only. Every
	// consultation is a would-have-shown event: the caller still opens a
	// session and reports the outcome, so the budget counts down and the
	// policy trains, but nothing gets shown on its say-so.
	if m.policy.ColdStart() {
		d.WouldHaveShown = true
		d.Confidence = 1 - prob
		d.Reason = "Policy warming up, suppressing suggestions"
		d.Layer = LayerBandit
		return d
	}

	if !result.Detected {
		switch {
		case !m.cfg.ConfusionOptional:
			d.Confidence = 1 - prob
			d.Reason = "No confusion detected"
			d.Layer = LayerBandit
			return d
		case m.cfg.ForceProactive:
			return m.banditVerdict(d, prob, m.cfg.DecisionThreshold, "Proactive")
		default:
			return m.banditVerdict(d, prob, m.cfg.ProactiveThreshold, "Proactive")
		}
	}

	return m.banditVerdict(d, prob, m.cfg.DecisionThreshold, result.Signal.Description())
}

func (m *Manager) banditVerdict(d Decision, prob, threshold float64, basis string) Decision {
	d.Layer = LayerBandit
	if prob > threshold {
		d.ShouldInterrupt = true
		d.Confidence = prob
		d.Reason = basis + ", policy favors interrupting"
	} else {
		d.Confidence = 1 - prob
		d.Reason = basis + ", policy favors staying quiet"
	}
	return d
}

// RecordOutcome hands an observed reaction to the durable queue. Enqueue
// failures are logged and absorbed: reporting an outcome must never fail
// from the caller's perspective.
func (m *Manager) RecordOutcome(ctx context.Context, o bandit.Outcome) {
	if o.ObservedAt.IsZero() {
		o.ObservedAt = m.clock()
	}
	if err := m.queue.Enqueue(ctx, o); err != nil {
		slog.Error("enqueueing outcome failed, reaction lost",
			"suggestion", o.SuggestionID, "action", o.Action, "error", err)
	}
}

// Status evaluates the cheap layers and reports alongside policy counters.
// CanInterrupt and Confidence are coarse advisory values for passive
// display, not a decision.
func (m *Manager) Status() Status {
	st := Status{
		At:             m.clock(),
		Gate:           m.gate.Evaluate(),
		CharsPerMinute: m.gate.CharsPerMinute(),
		Confusion:      m.detector.Detect(),
		ColdStart:      m.policy.ColdStart(),
		Interactions:   m.policy.InteractionCount(),
	}
	st.CanInterrupt = !st.Gate.Blocked
	switch {
	case st.Gate.Blocked:
		st.Confidence = 1.0
	case st.Confusion.Detected:
		st.Confidence = st.Confusion.Score
	default:
		st.Confidence = 0.5
	}
	return st
}

// Run polls the cheap layers on a fixed cadence until ctx is canceled,
// logging transitions in and out of blocked or confused states so the
// daemon log tells the story of the user's day without per-tick noise.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.StatusInterval)
	defer ticker.Stop()

	var wasBlocked, wasConfused bool
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			gd := m.gate.Evaluate()
			if gd.Blocked != wasBlocked {
				wasBlocked = gd.Blocked
				if gd.Blocked {
					slog.Info("flow gate closed", "reason", gd.Reason)
				} else {
					slog.Info("flow gate open")
				}
			}
			cr := m.detector.Detect()
			if cr.Detected != wasConfused {
				wasConfused = cr.Detected
				if cr.Detected {
					slog.Info("confusion detected", "signal", cr.Signal, "score", cr.Score)
				} else {
					slog.Info("confusion cleared")
				}
			}
		}
	}
}
