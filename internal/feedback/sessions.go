// Package feedback tracks the lifecycle of shown suggestions and turns user
// reactions into durable learning outcomes. A suggestion session opens when
// a suggestion is shown, accumulates engagement (hover, expand), and resolves
// exactly once into a terminal action.
package feedback

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okranz/nudged/internal/bandit"
	"github.com/okranz/nudged/internal/confusion"
	"github.com/okranz/nudged/internal/signals"
	"github.com/okranz/nudged/internal/storage"
)

const (
	// immediateDismissWindow separates a reflexive swat from a considered
	// dismissal.
	immediateDismissWindow = time.Second
	// hoverUpgradeMin is the accumulated hover time that turns a reported
	// ignore into engagement.
	hoverUpgradeMin = 2 * time.Second
)

// SessionStore is the storage surface sessions need.
type SessionStore interface {
	SaveSession(storage.Session) error
	GetSession(id string) (storage.Session, error)
	UpdateSessionEngagement(id string, hoverMillis int, expanded bool) error
	ResolveSession(id, action string, resolvedAt time.Time) error
	ListUnresolvedBefore(cutoff time.Time, limit int) ([]storage.Session, error)
	ListRecentSessions(limit int) ([]storage.Session, error)
}

// Shown captures the decision context a new session is opened with.
type Shown struct {
	AppID       string
	Context     string
	Signal      confusion.Signal
	Score       float64
	Probability float64
}

// Sessions manages suggestion sessions.
type Sessions struct {
	store SessionStore
	clock signals.Clock
}

// NewSessions creates a session tracker. clock may be nil, defaulting to
// time.Now.
func NewSessions(store SessionStore, clock signals.Clock) *Sessions {
	if clock == nil {
		clock = time.Now
	}
	return &Sessions{store: store, clock: clock}
}

// Open creates a session for a suggestion that is being shown right now and
// returns its ID. The caller attaches this ID to the rendered suggestion so
// later reactions can find their way back.
func (s *Sessions) Open(shown Shown) (string, error) {
	sess := storage.Session{
		ID:          uuid.New().String(),
		ShownAt:     s.clock(),
		AppID:       shown.AppID,
		Context:     shown.Context,
		Signal:      string(shown.Signal),
		Score:       shown.Score,
		Probability: shown.Probability,
	}
	if err := s.store.SaveSession(sess); err != nil {
		return "", fmt.Errorf("opening session: %w", err)
	}
	return sess.ID, nil
}

// Hover records accumulated hover time on an open session.
func (s *Sessions) Hover(id string, d time.Duration) error {
	return s.store.UpdateSessionEngagement(id, int(d.Milliseconds()), false)
}

// Expand records that the suggestion was expanded.
func (s *Sessions) Expand(id string) error {
	return s.store.UpdateSessionEngagement(id, 0, true)
}

// Get returns the session by ID.
func (s *Sessions) Get(id string) (storage.Session, error) {
	return s.store.GetSession(id)
}

// Recent returns the most recently shown sessions.
func (s *Sessions) Recent(limit int) ([]storage.Session, error) {
	return s.store.ListRecentSessions(limit)
}

// Resolve closes the session with the reported action and returns the
// outcome to learn from. The reported action may be reclassified from what
// the session actually recorded:
//
//   - a dismiss within one second of showing becomes immediate_dismiss
//   - an ignore on a session that was expanded becomes expand
//   - an ignore on a session hovered for two seconds or more becomes hover
//
// The outcome is stamped with the session's show time and app so learning
// replays are deterministic.
func (s *Sessions) Resolve(id string, action bandit.Action) (bandit.Outcome, error) {
	if _, ok := bandit.RewardFor(action); !ok {
		return bandit.Outcome{}, fmt.Errorf("unknown outcome action %q", action)
	}

	sess, err := s.store.GetSession(id)
	if err != nil {
		return bandit.Outcome{}, err
	}
	if sess.Resolved {
		return bandit.Outcome{}, storage.ErrNotFound
	}

	now := s.clock()
	elapsed := now.Sub(sess.ShownAt)

	final := action
	switch action {
	case bandit.ActionDismiss:
		if elapsed < immediateDismissWindow {
			final = bandit.ActionImmediateDismiss
		}
	case bandit.ActionIgnore:
		if sess.Expanded {
			final = bandit.ActionExpand
		} else if time.Duration(sess.HoverMillis)*time.Millisecond >= hoverUpgradeMin {
			final = bandit.ActionHover
		}
	}

	if err := s.store.ResolveSession(id, string(final), now); err != nil {
		return bandit.Outcome{}, err
	}

	return bandit.Outcome{
		SuggestionID: id,
		Action:       final,
		DwellMillis:  int(elapsed.Milliseconds()),
		Context:      sess.Context,
		Signal:       confusion.Signal(sess.Signal),
		Score:        sess.Score,
		AppID:        sess.AppID,
		ObservedAt:   sess.ShownAt,
	}, nil
}

// SweepIgnored resolves sessions that have sat unresolved longer than ttl,
// classifying each through the same upgrade rules as an explicit ignore, and
// returns the resulting outcomes for enqueueing.
func (s *Sessions) SweepIgnored(ttl time.Duration, limit int) ([]bandit.Outcome, error) {
	cutoff := s.clock().Add(-ttl)
	stale, err := s.store.ListUnresolvedBefore(cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale sessions: %w", err)
	}

	var outcomes []bandit.Outcome
	for _, sess := range stale {
		o, err := s.Resolve(sess.ID, bandit.ActionIgnore)
		if err == storage.ErrNotFound {
			// Raced with an explicit report, nothing to do.
			continue
		}
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}
