package bandit

import (
	"strings"
	"time"

	"github.com/okranz/nudged/internal/confusion"
)

// Feature is one named component of a feature vector, normally in [0,1].
type Feature struct {
	Name  string
	Value float64
}

// FeatureVector is an ordered list of features. It is rebuilt fresh per
// decision or outcome and never persisted.
type FeatureVector []Feature

// Get returns the value for name. ok is false when the feature is absent.
func (v FeatureVector) Get(name string) (float64, bool) {
	for _, f := range v {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// Inputs are the situational facts feature extraction derives from.
type Inputs struct {
	Now     time.Time
	AppID   string
	Signal  confusion.Signal // empty = no confusion signal
	Score   float64
	Context string
}

// App-category and context-keyword substring sets. Matching is
// case-insensitive substring containment.
var (
	ideSubstrings     = []string{"xcode", "jetbrains", "goland", "intellij", "pycharm", "vscode", "sublime", "zed", "iterm", "terminal"}
	browserSubstrings = []string{"chrome", "safari", "firefox", "arc", "brave", "edge"}
	docsSubstrings    = []string{"pages", "word", "notion", "obsidian", "docs", "notes"}

	codeTokens     = []string{"func ", "def ", "class ", "import ", "const ", "error:", "exception", "traceback", "=>", "nil pointer"}
	researchTokens = []string{"how to", "what is", "why ", "tutorial", "documentation", "paper", "study", "stack overflow"}
)

// Features deterministically maps the inputs to an ordered feature vector:
// time-of-day buckets, a weekend flag, app-category flags, the confusion
// signal flag plus its raw score, and coarse context-content flags. Only
// active features are emitted; absent features score as zero.
func Features(in Inputs) FeatureVector {
	var v FeatureVector

	switch h := in.Now.Hour(); {
	case h >= 5 && h < 12:
		v = append(v, Feature{"hour_morning", 1})
	case h >= 12 && h < 18:
		v = append(v, Feature{"hour_afternoon", 1})
	default:
		v = append(v, Feature{"hour_evening", 1})
	}
	if wd := in.Now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		v = append(v, Feature{"weekend", 1})
	}

	app := strings.ToLower(in.AppID)
	if containsAny(app, ideSubstrings) {
		v = append(v, Feature{"app_ide", 1})
	}
	if containsAny(app, browserSubstrings) {
		v = append(v, Feature{"app_browser", 1})
	}
	if containsAny(app, docsSubstrings) {
		v = append(v, Feature{"app_docs", 1})
	}

	switch in.Signal {
	case confusion.SignalThrashing:
		v = append(v, Feature{"confusion_thrashing", 1})
	case confusion.SignalStaring:
		v = append(v, Feature{"confusion_staring", 1})
	case confusion.SignalErrorRate:
		v = append(v, Feature{"confusion_error_rate", 1})
	}
	if in.Signal != "" {
		v = append(v, Feature{"confusion_score", clamp01(in.Score)})
	}

	text := strings.ToLower(in.Context)
	if containsAny(text, codeTokens) {
		v = append(v, Feature{"context_code", 1})
	}
	if containsAny(text, researchTokens) {
		v = append(v, Feature{"context_research", 1})
	}

	return v
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
