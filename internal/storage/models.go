package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session is one shown suggestion awaiting the user's reaction. Engagement
// fields accumulate until the session resolves into a terminal action.
type Session struct {
	ID          string
	ShownAt     time.Time
	AppID       string
	Context     string
	Signal      string // confusion signal active at show time, may be empty
	Score       float64
	Probability float64
	HoverMillis int
	Expanded    bool
	Resolved    bool
	Action      string // terminal action, set when Resolved
	ResolvedAt  time.Time
}

// OutcomeRecord is the append-only audit row for one applied outcome.
type OutcomeRecord struct {
	ID           string
	SuggestionID string
	Action       string
	Reward       float64
	DwellMillis  int
	Context      string
	Signal       string
	Score        float64
	AppID        string
	ObservedAt   time.Time
	CreatedAt    time.Time
}

// Job is a queued unit of background work.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
