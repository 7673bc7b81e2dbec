package feedback

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/okranz/nudged/internal/bandit"
	"github.com/okranz/nudged/internal/storage"
)

// JobTypeOutcomeApply is the queue job type for applying one outcome to the
// policy.
const JobTypeOutcomeApply = "outcome_apply"

// JobEnqueuer is the storage surface the queue writes to.
type JobEnqueuer interface {
	EnqueueJob(storage.Job) error
}

// Queue persists outcomes as jobs so a crash between report and learning
// loses nothing. The worker drains them in order with retries.
type Queue struct {
	store JobEnqueuer
}

// NewQueue creates a durable outcome queue over the job store.
func NewQueue(store JobEnqueuer) *Queue {
	return &Queue{store: store}
}

// Enqueue stores the outcome for asynchronous application.
func (q *Queue) Enqueue(_ context.Context, o bandit.Outcome) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encoding outcome: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeOutcomeApply,
		PayloadJSON: string(payload),
	}
	if err := q.store.EnqueueJob(job); err != nil {
		return fmt.Errorf("enqueueing outcome job: %w", err)
	}
	return nil
}
