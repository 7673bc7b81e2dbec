// Package signals maintains short rolling windows of raw behavioral events
// (keystrokes, pointer movement, foreground-app changes) and exposes the
// derived quantities the gate and the confusion detector consume.
//
// Each tracker is mutated by its own event stream and read concurrently by
// decision requests; every tracker serializes access with its own mutex.
// Reads return copies, so a momentarily stale snapshot is acceptable.
package signals

import (
	"sync"
	"time"
)

// Clock abstracts time.Now for tests.
type Clock func() time.Time

const (
	keystrokeWindowCap = 100
	appSwitchWindowCap = 20
)

// Keystroke is a single keyboard input event. Chars is the number of
// characters the event produced (capture shims may batch) and Backspace
// marks deletion events.
type Keystroke struct {
	At        time.Time
	Chars     int
	Backspace bool
}

// KeystrokeTracker keeps the most recent keystrokes in a bounded window.
type KeystrokeTracker struct {
	mu     sync.Mutex
	now    Clock
	window []Keystroke
}

// NewKeystrokeTracker creates a tracker. clock may be nil (defaults to time.Now).
func NewKeystrokeTracker(clock Clock) *KeystrokeTracker {
	if clock == nil {
		clock = time.Now
	}
	return &KeystrokeTracker{now: clock}
}

// Record appends a keystroke event, stamped with the tracker clock.
func (t *KeystrokeTracker) Record(chars int, backspace bool) {
	if chars < 1 {
		chars = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window = append(t.window, Keystroke{At: t.now(), Chars: chars, Backspace: backspace})
	t.window = trimHalf(t.window, keystrokeWindowCap)
}

// CharsWithin returns the total character count of keystrokes recorded in
// the trailing window d.
func (t *KeystrokeTracker) CharsWithin(d time.Duration) int {
	cutoff := t.now().Add(-d)
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, k := range t.window {
		if k.At.After(cutoff) {
			total += k.Chars
		}
	}
	return total
}

// CountWithin returns the number of keystroke events in the trailing window d.
func (t *KeystrokeTracker) CountWithin(d time.Duration) int {
	cutoff := t.now().Add(-d)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, k := range t.window {
		if k.At.After(cutoff) {
			n++
		}
	}
	return n
}

// BackspaceRatio returns the fraction of backspace events among the last
// sample keystrokes. ok is false when fewer than minSample events exist.
func (t *KeystrokeTracker) BackspaceRatio(sample, minSample int) (ratio float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	recent := t.window
	if len(recent) > sample {
		recent = recent[len(recent)-sample:]
	}
	if len(recent) < minSample {
		return 0, false
	}
	backspaces := 0
	for _, k := range recent {
		if k.Backspace {
			backspaces++
		}
	}
	return float64(backspaces) / float64(len(recent)), true
}

// PointerTracker records the most recent pointer movement timestamp.
type PointerTracker struct {
	mu       sync.Mutex
	now      Clock
	lastMove time.Time
}

// NewPointerTracker creates a tracker. clock may be nil (defaults to time.Now).
func NewPointerTracker(clock Clock) *PointerTracker {
	if clock == nil {
		clock = time.Now
	}
	return &PointerTracker{now: clock}
}

// Record marks a pointer movement at the current clock time.
func (t *PointerTracker) Record() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastMove = t.now()
}

// IdleFor returns how long the pointer has been still. ok is false when no
// movement has ever been observed.
func (t *PointerTracker) IdleFor() (idle time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastMove.IsZero() {
		return 0, false
	}
	return t.now().Sub(t.lastMove), true
}

// App identifies a foreground application.
type App struct {
	BundleID   string
	Name       string
	Fullscreen bool
}

// AppSwitch is one foreground-application change event.
type AppSwitch struct {
	At       time.Time
	BundleID string
	Name     string
}

// AppTracker keeps the current foreground app and a bounded window of
// recent foreground-app changes.
type AppTracker struct {
	mu       sync.Mutex
	now      Clock
	current  App
	hasApp   bool
	switches []AppSwitch
}

// NewAppTracker creates a tracker. clock may be nil (defaults to time.Now).
func NewAppTracker(clock Clock) *AppTracker {
	if clock == nil {
		clock = time.Now
	}
	return &AppTracker{now: clock}
}

// Record registers a foreground-app change. Repeated events for the app
// already in front update fullscreen state without counting a switch.
func (t *AppTracker) Record(app App) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasApp && t.current.BundleID == app.BundleID {
		t.current = app
		return
	}
	t.current = app
	t.hasApp = true
	t.switches = append(t.switches, AppSwitch{At: t.now(), BundleID: app.BundleID, Name: app.Name})
	t.switches = trimHalf(t.switches, appSwitchWindowCap)
}

// Current returns the foreground app. ok is false before any app event.
func (t *AppTracker) Current() (App, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.hasApp
}

// SwitchesWithin returns a copy of the app switches in the trailing window d.
func (t *AppTracker) SwitchesWithin(d time.Duration) []AppSwitch {
	cutoff := t.now().Add(-d)
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []AppSwitch
	for _, s := range t.switches {
		if s.At.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// trimHalf drops the oldest half of the window once it exceeds capacity.
// Batch eviction keeps appends O(1) amortized instead of O(n) per event.
func trimHalf[T any](window []T, capacity int) []T {
	if len(window) <= capacity {
		return window
	}
	kept := make([]T, len(window)-len(window)/2)
	copy(kept, window[len(window)/2:])
	return kept
}
