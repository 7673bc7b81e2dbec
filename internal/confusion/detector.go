// Package confusion surfaces heuristic evidence that the user may want help
// right now. It is purely advisory: a missing signal is a valid "no
// opportunity" result, never an error, and a false positive only shifts the
// probability fed to the policy layer.
package confusion

import (
	"strings"
	"time"

	"github.com/okranz/nudged/internal/signals"
)

// Signal labels the kind of confusion evidence detected.
type Signal string

const (
	SignalThrashing Signal = "thrashing"
	SignalStaring   Signal = "staring"
	SignalErrorRate Signal = "error_rate"
)

// Description returns the fixed human-readable description for the signal.
func (s Signal) Description() string {
	switch s {
	case SignalThrashing:
		return "Rapid switching between editor and browser"
	case SignalStaring:
		return "Idle while reading content"
	case SignalErrorRate:
		return "High backspace rate while typing"
	default:
		return "Unknown signal"
	}
}

// Result is the aggregate detector output. Signal is empty and Score zero
// when nothing was detected.
type Result struct {
	Detected bool
	Signal   Signal
	Score    float64
}

// KeystrokeSource provides the backspace ratio over recent keystrokes.
type KeystrokeSource interface {
	BackspaceRatio(sample, minSample int) (float64, bool)
}

// PointerSource provides pointer idle time.
type PointerSource interface {
	IdleFor() (time.Duration, bool)
}

// AppSource provides the foreground app and recent app switches.
type AppSource interface {
	Current() (signals.App, bool)
	SwitchesWithin(d time.Duration) []signals.AppSwitch
}

// Config holds the heuristic thresholds.
type Config struct {
	ThrashWindow      time.Duration // trailing window for app switches
	ThrashMinSwitches int           // minimum switches to consider thrashing
	ThrashSaturation  float64       // switch count at which the score saturates
	StareMinIdle      time.Duration // pointer idle required before staring applies
	StareSaturation   time.Duration // idle time at which the score saturates
	ErrorSample       int           // keystrokes inspected for the error-rate check
	ErrorMinSample    int           // minimum keystrokes required to evaluate
	ErrorThreshold    float64       // backspace ratio at which the signal fires
	ErrorSaturation   float64       // ratio at which the score saturates
}

// DefaultConfig returns the shipped thresholds.
func DefaultConfig() Config {
	return Config{
		ThrashWindow:      15 * time.Second,
		ThrashMinSwitches: 3,
		ThrashSaturation:  6,
		StareMinIdle:      5 * time.Second,
		StareSaturation:   30 * time.Second,
		ErrorSample:       50,
		ErrorMinSample:    20,
		ErrorThreshold:    0.3,
		ErrorSaturation:   0.5,
	}
}

// Substring sets classifying app identifiers into the two thrashing
// categories and the content-consumption set for staring.
var (
	editorSubstrings = []string{
		"xcode", "jetbrains", "goland", "intellij", "pycharm",
		"vscode", "com.microsoft.VSCode", "sublime", "vim", "emacs",
		"iterm", "terminal", "zed",
	}
	browserSubstrings = []string{
		"chrome", "safari", "firefox", "arc", "brave", "edge", "orion",
	}
	contentSubstrings = []string{
		"chrome", "safari", "firefox", "arc", "brave", "edge", "orion",
		"preview", "books", "kindle", "notion", "obsidian", "acrobat",
		"pages", "word", "vscode", "jetbrains", "goland", "xcode",
	}
)

// Detector evaluates the three confusion heuristics.
type Detector struct {
	cfg     Config
	keys    KeystrokeSource
	pointer PointerSource
	apps    AppSource
}

// New creates a detector over the given signal sources.
func New(cfg Config, keys KeystrokeSource, pointer PointerSource, apps AppSource) *Detector {
	return &Detector{cfg: cfg, keys: keys, pointer: pointer, apps: apps}
}

// Detect evaluates all three heuristics and keeps the highest-scoring one.
// Ties break toward the first evaluated (thrashing, staring, error rate) so
// the aggregate is deterministic.
func (d *Detector) Detect() Result {
	res := Result{}
	checks := []struct {
		signal Signal
		eval   func() (float64, bool)
	}{
		{SignalThrashing, d.thrashingScore},
		{SignalStaring, d.staringScore},
		{SignalErrorRate, d.errorRateScore},
	}
	for _, c := range checks {
		score, ok := c.eval()
		if !ok {
			continue
		}
		if !res.Detected || score > res.Score {
			res.Signal = c.signal
			res.Score = score
		}
		res.Detected = true
	}
	return res
}

// thrashingScore fires when the user rapidly switches apps. Alternation
// between editor-like and browser-like apps is the stronger pattern; a bare
// switch count above the threshold yields a flat, weaker score.
func (d *Detector) thrashingScore() (float64, bool) {
	switches := d.apps.SwitchesWithin(d.cfg.ThrashWindow)
	if len(switches) < d.cfg.ThrashMinSwitches {
		return 0, false
	}

	editorHits, browserHits := 0, 0
	for _, s := range switches {
		id := strings.ToLower(s.BundleID + " " + s.Name)
		if matchesAny(id, editorSubstrings) {
			editorHits++
		}
		if matchesAny(id, browserSubstrings) {
			browserHits++
		}
	}

	if editorHits >= 2 && browserHits >= 2 {
		return min1(float64(len(switches)) / d.cfg.ThrashSaturation), true
	}
	return 0.5, true
}

// staringScore fires when the pointer has been idle in a content-consumption
// app, saturating as the idle time grows.
func (d *Detector) staringScore() (float64, bool) {
	idle, ok := d.pointer.IdleFor()
	if !ok || idle <= d.cfg.StareMinIdle {
		return 0, false
	}
	app, ok := d.apps.Current()
	if !ok {
		return 0, false
	}
	id := strings.ToLower(app.BundleID + " " + app.Name)
	if !matchesAny(id, contentSubstrings) {
		return 0, false
	}
	return min1(idle.Seconds() / d.cfg.StareSaturation.Seconds()), true
}

// errorRateScore fires when the backspace ratio over recent keystrokes
// crosses the threshold.
func (d *Detector) errorRateScore() (float64, bool) {
	ratio, ok := d.keys.BackspaceRatio(d.cfg.ErrorSample, d.cfg.ErrorMinSample)
	if !ok || ratio < d.cfg.ErrorThreshold {
		return 0, false
	}
	return min1(ratio / d.cfg.ErrorSaturation), true
}

func matchesAny(id string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(id, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
