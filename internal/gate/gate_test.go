package gate

import (
	"testing"
	"time"

	"github.com/okranz/nudged/internal/signals"
)

// stubKeys is a fixed keystroke snapshot.
type stubKeys struct {
	chars int
}

func (s stubKeys) CharsWithin(time.Duration) int { return s.chars }

// stubApps is a fixed foreground-app snapshot.
type stubApps struct {
	app signals.App
	ok  bool
}

func (s stubApps) Current() (signals.App, bool) { return s.app, s.ok }

func TestCharsPerMinuteFormula(t *testing.T) {
	cases := []struct {
		chars int
		want  float64
	}{
		{0, 0},
		{1, 12},
		{24, 288},
		{100, 1200},
	}
	for _, tc := range cases {
		g := New(DefaultConfig(), stubKeys{chars: tc.chars}, stubApps{})
		if got := g.CharsPerMinute(); got != tc.want {
			t.Errorf("CharsPerMinute with %d chars in 5s = %v, want %v", tc.chars, got, tc.want)
		}
	}
}

func TestVelocityBlocksRegardlessOfApp(t *testing.T) {
	// 24 chars in 5s → 288/min, above the 50/min threshold. The typing
	// check fires before the blacklist check even for a blacklisted app.
	apps := stubApps{app: signals.App{BundleID: "us.zoom.xos", Name: "zoom.us"}, ok: true}
	g := New(DefaultConfig(), stubKeys{chars: 24}, apps)

	d := g.Evaluate()
	if !d.Blocked {
		t.Fatal("expected blocked")
	}
	if d.Reason != BlockHighVelocityTyping {
		t.Errorf("reason = %s, want %s", d.Reason, BlockHighVelocityTyping)
	}
}

func TestPresentationBlocksOnlyFullscreen(t *testing.T) {
	windowed := stubApps{app: signals.App{BundleID: "com.apple.Keynote", Name: "Keynote"}, ok: true}
	g := New(DefaultConfig(), stubKeys{}, windowed)
	if d := g.Evaluate(); d.Blocked {
		t.Errorf("windowed Keynote should not block, got %s", d.Reason)
	}

	fullscreen := stubApps{app: signals.App{BundleID: "com.apple.Keynote", Name: "Keynote", Fullscreen: true}, ok: true}
	g = New(DefaultConfig(), stubKeys{}, fullscreen)
	d := g.Evaluate()
	if !d.Blocked || d.Reason != BlockPresentationMode {
		t.Errorf("fullscreen Keynote: got %+v, want PresentationMode block", d)
	}
}

func TestBlacklistedAppBlocks(t *testing.T) {
	apps := stubApps{app: signals.App{BundleID: "us.zoom.xos", Name: "zoom.us"}, ok: true}
	g := New(DefaultConfig(), stubKeys{}, apps)

	d := g.Evaluate()
	if !d.Blocked || d.Reason != BlockBlacklistedApp {
		t.Fatalf("got %+v, want BlacklistedApp block", d)
	}
	if d.Reason.Description() != "Sensitive/meeting app active" {
		t.Errorf("description = %q", d.Reason.Description())
	}
}

func TestSensitiveSubstringMatchIsCaseInsensitive(t *testing.T) {
	cases := []signals.App{
		{BundleID: "com.1password.1password", Name: "1Password"},
		{BundleID: "com.example.app", Name: "My Bank"},
		{BundleID: "com.agilebits.onepassword", Name: "1PASSWORD 8"},
	}
	for _, app := range cases {
		g := New(DefaultConfig(), stubKeys{}, stubApps{app: app, ok: true})
		d := g.Evaluate()
		if !d.Blocked || d.Reason != BlockBlacklistedApp {
			t.Errorf("app %+v: got %+v, want BlacklistedApp block", app, d)
		}
	}
}

func TestUnblockedByDefault(t *testing.T) {
	apps := stubApps{app: signals.App{BundleID: "com.jetbrains.goland", Name: "GoLand"}, ok: true}
	g := New(DefaultConfig(), stubKeys{chars: 2}, apps)

	if d := g.Evaluate(); d.Blocked {
		t.Errorf("expected unblocked, got %s", d.Reason)
	}
}

func TestNoForegroundAppOnlyVelocityApplies(t *testing.T) {
	g := New(DefaultConfig(), stubKeys{}, stubApps{})
	if d := g.Evaluate(); d.Blocked {
		t.Errorf("no app and no typing should not block, got %s", d.Reason)
	}

	g = New(DefaultConfig(), stubKeys{chars: 24}, stubApps{})
	if d := g.Evaluate(); !d.Blocked || d.Reason != BlockHighVelocityTyping {
		t.Errorf("fast typing with no app info: got %+v", d)
	}
}

func TestEvaluateIsPure(t *testing.T) {
	apps := stubApps{app: signals.App{BundleID: "com.google.Chrome", Name: "Chrome"}, ok: true}
	g := New(DefaultConfig(), stubKeys{chars: 3}, apps)

	first := g.Evaluate()
	for i := 0; i < 10; i++ {
		if got := g.Evaluate(); got != first {
			t.Fatalf("evaluation %d differs: %+v vs %+v", i, got, first)
		}
	}
}
