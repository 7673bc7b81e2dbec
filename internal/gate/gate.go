// Package gate implements the hard-rule veto layer of the interruptibility
// cascade. It is a pure function of the current tracker state: no learning,
// no probabilities, and identical snapshots always produce identical
// decisions.
package gate

import (
	"strings"
	"time"

	"github.com/okranz/nudged/internal/signals"
)

// BlockReason identifies why interruption is vetoed. Exactly one reason is
// active per blocked evaluation.
type BlockReason string

const (
	BlockHighVelocityTyping BlockReason = "high_velocity_typing"
	BlockPresentationMode   BlockReason = "presentation_mode"
	BlockBlacklistedApp     BlockReason = "blacklisted_app"
)

// Description returns the fixed human-readable description for the reason.
func (r BlockReason) Description() string {
	switch r {
	case BlockHighVelocityTyping:
		return "Typing velocity above focus threshold"
	case BlockPresentationMode:
		return "Presentation in progress"
	case BlockBlacklistedApp:
		return "Sensitive/meeting app active"
	default:
		return "Unknown block reason"
	}
}

// Decision is the gate verdict. Reason is meaningful only when Blocked.
type Decision struct {
	Blocked bool
	Reason  BlockReason
}

// KeystrokeSource provides the trailing keystroke character count.
type KeystrokeSource interface {
	CharsWithin(d time.Duration) int
}

// AppSource provides the current foreground application.
type AppSource interface {
	Current() (signals.App, bool)
}

// Config holds the gate's fixed rule parameters.
type Config struct {
	// VelocityWindow is the trailing window for the typing-velocity check.
	VelocityWindow time.Duration
	// MaxCharsPerMinute is the typing velocity above which interruption is
	// always vetoed.
	MaxCharsPerMinute float64
	// PresentationApps are bundle IDs of slide-deck tools; they veto only
	// while fullscreen.
	PresentationApps []string
	// BlacklistedApps are exact bundle IDs that always veto.
	BlacklistedApps []string
	// SensitiveSubstrings veto when they appear (case-insensitively) in the
	// bundle ID or display name.
	SensitiveSubstrings []string
}

// DefaultConfig returns the shipped rule set.
func DefaultConfig() Config {
	return Config{
		VelocityWindow:    5 * time.Second,
		MaxCharsPerMinute: 50,
		PresentationApps: []string{
			"com.apple.Keynote",
			"com.microsoft.Powerpoint",
		},
		BlacklistedApps: []string{
			"us.zoom.xos",
			"com.microsoft.teams2",
			"com.cisco.webexmeetingsapp",
			"com.apple.FaceTime",
			"com.hnc.Discord",
		},
		SensitiveSubstrings: []string{
			"1password",
			"lastpass",
			"bitwarden",
			"keychain",
			"bank",
			"paypal",
			"password",
		},
	}
}

// Gate evaluates the hard suppression rules.
type Gate struct {
	cfg  Config
	keys KeystrokeSource
	apps AppSource
}

// New creates a gate over the given signal sources.
func New(cfg Config, keys KeystrokeSource, apps AppSource) *Gate {
	return &Gate{cfg: cfg, keys: keys, apps: apps}
}

// CharsPerMinute returns the typing velocity over the configured trailing
// window, extrapolated to a per-minute rate.
func (g *Gate) CharsPerMinute() float64 {
	windowSecs := g.cfg.VelocityWindow.Seconds()
	if windowSecs <= 0 {
		return 0
	}
	chars := g.keys.CharsWithin(g.cfg.VelocityWindow)
	return float64(chars) * (60 / windowSecs)
}

// Evaluate runs the ordered, short-circuiting rule checks. Typing velocity
// takes priority: fast typing is uninterruptible work regardless of app.
func (g *Gate) Evaluate() Decision {
	if g.CharsPerMinute() > g.cfg.MaxCharsPerMinute {
		return Decision{Blocked: true, Reason: BlockHighVelocityTyping}
	}

	app, ok := g.apps.Current()
	if !ok {
		return Decision{}
	}

	if app.Fullscreen && containsExact(g.cfg.PresentationApps, app.BundleID) {
		return Decision{Blocked: true, Reason: BlockPresentationMode}
	}

	if containsExact(g.cfg.BlacklistedApps, app.BundleID) || g.matchesSensitive(app) {
		return Decision{Blocked: true, Reason: BlockBlacklistedApp}
	}

	return Decision{}
}

func (g *Gate) matchesSensitive(app signals.App) bool {
	id := strings.ToLower(app.BundleID)
	name := strings.ToLower(app.Name)
	for _, sub := range g.cfg.SensitiveSubstrings {
		if strings.Contains(id, sub) || strings.Contains(name, sub) {
			return true
		}
	}
	return false
}

func containsExact(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
