package interrupt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/okranz/nudged/internal/bandit"
	"github.com/okranz/nudged/internal/confusion"
	"github.com/okranz/nudged/internal/gate"
	"github.com/okranz/nudged/internal/signals"
)

type stubGate struct {
	decision gate.Decision
	cpm      float64
}

func (s *stubGate) Evaluate() gate.Decision { return s.decision }

func (s *stubGate) CharsPerMinute() float64 { return s.cpm }

type stubDetector struct {
	result confusion.Result
}

func (s *stubDetector) Detect() confusion.Result { return s.result }

type stubPolicy struct {
	score        float64
	coldStart    bool
	interactions int
	lastFeatures bandit.FeatureVector
}

func (s *stubPolicy) Score(fv bandit.FeatureVector) float64 {
	s.lastFeatures = fv
	return s.score
}

func (s *stubPolicy) ColdStart() bool { return s.coldStart }

func (s *stubPolicy) InteractionCount() int { return s.interactions }

type stubApps struct {
	app signals.App
	ok  bool
}

func (s *stubApps) Current() (signals.App, bool) { return s.app, s.ok }

type stubQueue struct {
	outcomes []bandit.Outcome
	err      error
}

func (s *stubQueue) Enqueue(_ context.Context, o bandit.Outcome) error {
	if s.err != nil {
		return s.err
	}
	s.outcomes = append(s.outcomes, o)
	return nil
}

func fixedClock(t time.Time) signals.Clock {
	return func() time.Time { return t }
}

var noon = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

func newTestManager(cfg Config, g GateEvaluator, d ConfusionSource, p Policy, apps AppSource, q OutcomeQueue) *Manager {
	return New(cfg, g, d, p, apps, q, fixedClock(noon))
}

func TestDecideGateVeto(t *testing.T) {
	g := &stubGate{decision: gate.Decision{Blocked: true, Reason: gate.BlockHighVelocityTyping}}
	p := &stubPolicy{score: 0.99}
	m := newTestManager(DefaultConfig(), g, &stubDetector{}, p, &stubApps{}, &stubQueue{})

	d := m.Decide("anything")
	if d.ShouldInterrupt {
		t.Error("gate veto must suppress the suggestion")
	}
	if d.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", d.Confidence)
	}
	if d.Layer != LayerGate {
		t.Errorf("Layer = %s, want gate", d.Layer)
	}
	if !strings.HasPrefix(d.Reason, "Blocked: ") {
		t.Errorf("Reason = %q, want Blocked: prefix", d.Reason)
	}
	if p.lastFeatures != nil {
		t.Error("policy must not be scored when the gate blocks")
	}
}

func TestDecideConfusedAboveThreshold(t *testing.T) {
	det := &stubDetector{result: confusion.Result{Detected: true, Signal: confusion.SignalThrashing, Score: 0.8}}
	p := &stubPolicy{score: 0.7}
	m := newTestManager(DefaultConfig(), &stubGate{}, det, p, &stubApps{app: signals.App{BundleID: "com.jetbrains.goland"}, ok: true}, &stubQueue{})

	d := m.Decide("func main()")
	if !d.ShouldInterrupt {
		t.Fatal("confused user plus favorable policy should interrupt")
	}
	if d.Layer != LayerBandit {
		t.Errorf("Layer = %s, want bandit", d.Layer)
	}
	if d.Confidence != 0.7 {
		t.Errorf("Confidence = %v, want the policy probability", d.Confidence)
	}
	if d.Signal != confusion.SignalThrashing || d.ConfusionScore != 0.8 {
		t.Errorf("decision should carry the confusion evidence, got %+v", d)
	}
	if d.AppID != "com.jetbrains.goland" {
		t.Errorf("AppID = %q", d.AppID)
	}
	if _, ok := p.lastFeatures.Get("confusion_thrashing"); !ok {
		t.Error("signal flag should reach the feature vector")
	}
}

func TestDecideConfusedBelowThreshold(t *testing.T) {
	det := &stubDetector{result: confusion.Result{Detected: true, Signal: confusion.SignalStaring, Score: 0.6}}
	m := newTestManager(DefaultConfig(), &stubGate{}, det, &stubPolicy{score: 0.4}, &stubApps{}, &stubQueue{})

	d := m.Decide("")
	if d.ShouldInterrupt {
		t.Error("policy below threshold must stay quiet")
	}
	if d.Confidence != 0.6 {
		t.Errorf("Confidence = %v, want complement of probability", d.Confidence)
	}
	if d.Layer != LayerBandit {
		t.Errorf("Layer = %s, want bandit", d.Layer)
	}
}

func TestDecideProactivePaths(t *testing.T) {
	tests := []struct {
		name              string
		confusionOptional bool
		forceProactive    bool
		score             float64
		want              bool
		wantLayer         Layer
	}{
		{"strict threshold passes", true, false, 0.8, true, LayerBandit},
		{"strict threshold holds", true, false, 0.6, false, LayerBandit},
		{"forced uses normal threshold", true, true, 0.6, true, LayerBandit},
		{"confusion required", false, false, 0.99, false, LayerBandit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ConfusionOptional = tt.confusionOptional
			cfg.ForceProactive = tt.forceProactive
			m := newTestManager(cfg, &stubGate{}, &stubDetector{}, &stubPolicy{score: tt.score}, &stubApps{}, &stubQueue{})

			d := m.Decide("")
			if d.ShouldInterrupt != tt.want {
				t.Errorf("ShouldInterrupt = %v, want %v", d.ShouldInterrupt, tt.want)
			}
			if d.Layer != tt.wantLayer {
				t.Errorf("Layer = %s, want %s", d.Layer, tt.wantLayer)
			}
		})
	}
}

func TestDecideColdStartSuppresses(t *testing.T) {
	det := &stubDetector{result: confusion.Result{Detected: true, Signal: confusion.SignalErrorRate, Score: 0.9}}
	m := newTestManager(DefaultConfig(), &stubGate{}, det, &stubPolicy{score: 0.95, coldStart: true}, &stubApps{}, &stubQueue{})

	d := m.Decide("")
	if d.ShouldInterrupt {
		t.Error("cold start must suppress even a confident policy")
	}
	if !d.WouldHaveShown {
		t.Error("cold start decisions must be marked would-have-shown so outcomes flow")
	}
	if d.Layer != LayerBandit {
		t.Errorf("Layer = %s, want bandit", d.Layer)
	}
	if d.Probability != 0.95 {
		t.Error("shadow probability should still be reported during cold start")
	}
}

func TestDecideAfterColdStartNotMarked(t *testing.T) {
	det := &stubDetector{result: confusion.Result{Detected: true, Signal: confusion.SignalErrorRate, Score: 0.9}}
	m := newTestManager(DefaultConfig(), &stubGate{}, det, &stubPolicy{score: 0.95}, &stubApps{}, &stubQueue{})

	d := m.Decide("")
	if !d.ShouldInterrupt {
		t.Fatal("warmed-up confident policy should interrupt")
	}
	if d.WouldHaveShown {
		t.Error("would-have-shown only applies while the policy is warming up")
	}
}

func TestRecordOutcome(t *testing.T) {
	q := &stubQueue{}
	m := newTestManager(DefaultConfig(), &stubGate{}, &stubDetector{}, &stubPolicy{}, &stubApps{}, q)

	m.RecordOutcome(context.Background(), bandit.Outcome{SuggestionID: "s1", Action: bandit.ActionSave})
	if len(q.outcomes) != 1 {
		t.Fatalf("enqueued %d outcomes, want 1", len(q.outcomes))
	}
	if q.outcomes[0].ObservedAt != noon {
		t.Error("missing ObservedAt should be stamped with the current time")
	}

	stamped := noon.Add(-time.Minute)
	m.RecordOutcome(context.Background(), bandit.Outcome{SuggestionID: "s2", Action: bandit.ActionHover, ObservedAt: stamped})
	if q.outcomes[1].ObservedAt != stamped {
		t.Error("caller-provided ObservedAt must be preserved")
	}
}

func TestRecordOutcomeAbsorbsQueueFailure(t *testing.T) {
	q := &stubQueue{err: errors.New("disk full")}
	m := newTestManager(DefaultConfig(), &stubGate{}, &stubDetector{}, &stubPolicy{}, &stubApps{}, q)
	// Must not panic or propagate.
	m.RecordOutcome(context.Background(), bandit.Outcome{SuggestionID: "s1", Action: bandit.ActionSave})
}

func TestStatusSkipsPolicyScoring(t *testing.T) {
	g := &stubGate{cpm: 42}
	p := &stubPolicy{score: 0.9, coldStart: true, interactions: 7}
	m := newTestManager(DefaultConfig(), g, &stubDetector{}, p, &stubApps{}, &stubQueue{})

	st := m.Status()
	if st.CharsPerMinute != 42 {
		t.Errorf("CharsPerMinute = %v", st.CharsPerMinute)
	}
	if !st.ColdStart || st.Interactions != 7 {
		t.Errorf("policy counters not surfaced: %+v", st)
	}
	if p.lastFeatures != nil {
		t.Error("Status must never score the policy")
	}
	if !st.CanInterrupt {
		t.Error("open gate should report CanInterrupt")
	}
	if st.Confidence != 0.5 {
		t.Errorf("advisory confidence = %v, want 0.5", st.Confidence)
	}
}

func TestStatusBlockedGate(t *testing.T) {
	g := &stubGate{decision: gate.Decision{Blocked: true, Reason: gate.BlockPresentationMode}}
	m := newTestManager(DefaultConfig(), g, &stubDetector{}, &stubPolicy{}, &stubApps{}, &stubQueue{})

	st := m.Status()
	if st.CanInterrupt {
		t.Error("blocked gate should report CanInterrupt=false")
	}
	if st.Confidence != 1.0 {
		t.Errorf("blocked confidence = %v, want 1.0", st.Confidence)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StatusInterval = time.Millisecond
	m := newTestManager(cfg, &stubGate{}, &stubDetector{}, &stubPolicy{}, &stubApps{}, &stubQueue{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

// End-to-end over real trackers: rapid typing closes the gate regardless of
// how promising the policy looks.
func TestCascadeRapidTyping(t *testing.T) {
	now := noon
	clock := func() time.Time { return now }

	keys := signals.NewKeystrokeTracker(clock)
	apps := signals.NewAppTracker(clock)
	pointer := signals.NewPointerTracker(clock)
	apps.Record(signals.App{BundleID: "com.jetbrains.goland", Name: "GoLand"})

	// Four keystrokes of six characters inside the window: 24 chars over
	// five seconds extrapolates to 288 per minute, well over the limit.
	for i := 0; i < 4; i++ {
		keys.Record(6, false)
		now = now.Add(time.Second)
	}

	g := gate.New(gate.DefaultConfig(), keys, apps)
	det := confusion.New(confusion.DefaultConfig(), keys, pointer, apps)
	m := New(DefaultConfig(), g, det, &stubPolicy{score: 0.99}, apps, &stubQueue{}, clock)

	d := m.Decide("refactor this loop")
	if d.ShouldInterrupt {
		t.Error("rapid typing should close the gate")
	}
	if d.Layer != LayerGate {
		t.Errorf("Layer = %s, want gate", d.Layer)
	}
}

// End-to-end: app thrashing between an editor and a browser produces a
// confusion signal that reaches the policy's feature vector.
func TestCascadeThrashing(t *testing.T) {
	now := noon
	clock := func() time.Time { return now }

	keys := signals.NewKeystrokeTracker(clock)
	apps := signals.NewAppTracker(clock)
	pointer := signals.NewPointerTracker(clock)

	cycle := []signals.App{
		{BundleID: "com.jetbrains.goland", Name: "GoLand"},
		{BundleID: "com.google.Chrome", Name: "Chrome"},
	}
	for i := 0; i < 4; i++ {
		apps.Record(cycle[i%2])
		now = now.Add(2 * time.Second)
	}

	g := gate.New(gate.DefaultConfig(), keys, apps)
	det := confusion.New(confusion.DefaultConfig(), keys, pointer, apps)
	p := &stubPolicy{score: 0.7}
	m := New(DefaultConfig(), g, det, p, apps, &stubQueue{}, clock)

	d := m.Decide("")
	if !d.ShouldInterrupt {
		t.Fatalf("expected interrupt, got %+v", d)
	}
	if d.Signal != confusion.SignalThrashing {
		t.Errorf("Signal = %s, want thrashing", d.Signal)
	}
	if _, ok := p.lastFeatures.Get("confusion_thrashing"); !ok {
		t.Error("thrashing flag missing from the feature vector")
	}
}
