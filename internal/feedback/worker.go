package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/okranz/nudged/internal/bandit"
	"github.com/okranz/nudged/internal/storage"
)

// JobStore abstracts the job queue and audit log operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	SaveOutcome(storage.OutcomeRecord) error
}

// PolicyIngester applies one outcome to the learning state.
type PolicyIngester interface {
	Ingest(bandit.Outcome) error
}

// Worker processes outcome_apply jobs from the SQLite job queue, feeding
// each outcome to the policy and appending it to the audit log.
type Worker struct {
	store  JobStore
	policy PolicyIngester
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, policy PolicyIngester, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		policy: policy,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single outcome_apply job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeOutcomeApply})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(_ context.Context, job *storage.Job) error {
	var o bandit.Outcome
	if err := json.Unmarshal([]byte(job.PayloadJSON), &o); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	reward, ok := bandit.RewardFor(o.Action)
	if !ok {
		return fmt.Errorf("unknown outcome action %q", o.Action)
	}

	if err := w.policy.Ingest(o); err != nil {
		return fmt.Errorf("applying outcome %s: %w", o.SuggestionID, err)
	}

	rec := storage.OutcomeRecord{
		ID:           uuid.New().String(),
		SuggestionID: o.SuggestionID,
		Action:       string(o.Action),
		Reward:       reward,
		DwellMillis:  o.DwellMillis,
		Context:      o.Context,
		Signal:       string(o.Signal),
		Score:        o.Score,
		AppID:        o.AppID,
		ObservedAt:   o.ObservedAt,
		CreatedAt:    time.Now().UTC(),
	}
	if err := w.store.SaveOutcome(rec); err != nil {
		return fmt.Errorf("recording outcome: %w", err)
	}

	return nil
}
