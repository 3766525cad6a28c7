package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/opencontest/judge/internal/domain"
)

// StuckScanner lists submissions that have sat in a non-final state for
// longer than the cutoff. Implemented by the Postgres judge repo.
type StuckScanner interface {
	ListStuckSubmissions(ctx context.Context, cutoff time.Duration, limit int) ([]domain.SubmissionKey, error)
}

// Requeuer periodically republishes submissions whose broker delivery
// was lost (worker crash mid-task, transient claim failure after the
// record was acknowledged). Claiming is idempotent, so republishing a
// submission another worker is still judging is harmless.
type Requeuer struct {
	scanner  StuckScanner
	queue    domain.Queue
	interval time.Duration
	cutoff   time.Duration
	batch    int
}

// NewRequeuer constructs a Requeuer that scans every interval for
// submissions stuck longer than cutoff.
func NewRequeuer(scanner StuckScanner, queue domain.Queue, interval, cutoff time.Duration) *Requeuer {
	return &Requeuer{
		scanner:  scanner,
		queue:    queue,
		interval: interval,
		cutoff:   cutoff,
		batch:    100,
	}
}

// Run sweeps until the context is cancelled.
func (r *Requeuer) Run(ctx context.Context) {
	slog.Info("stuck submission requeuer started",
		slog.Duration("interval", r.interval),
		slog.Duration("cutoff", r.cutoff))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Requeuer) sweep(ctx context.Context) {
	keys, err := r.scanner.ListStuckSubmissions(ctx, r.cutoff, r.batch)
	if err != nil {
		slog.Error("stuck submission scan failed", slog.Any("error", err))
		return
	}
	if len(keys) == 0 {
		return
	}
	slog.Warn("requeuing stuck submissions", slog.Int("count", len(keys)))
	for _, key := range keys {
		if err := r.queue.PublishJudgeJob(ctx, key); err != nil {
			slog.Error("stuck submission republish failed",
				slog.String("contest_id", key.ContestID),
				slog.String("problem_id", key.ProblemID),
				slog.Int64("submission_id", key.SubmissionID),
				slog.Any("error", err))
		}
	}
}
