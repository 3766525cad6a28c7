package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"

	"github.com/opencontest/judge/internal/adapter/observability"
	"github.com/opencontest/judge/internal/domain"
)

// Stats are the per-process counters reported by the heartbeat.
type Stats struct {
	Processed atomic.Int64
	Errors    atomic.Int64
}

// Loop is the work loop: it claims each delivered submission, builds
// the judge task and submits it to the executor. It is the Handler
// plugged into the broker consumer.
type Loop struct {
	store domain.JudgeStore
	exec  *Executor
	stats *Stats
}

// NewLoop constructs a Loop.
func NewLoop(store domain.JudgeStore, exec *Executor, stats *Stats) *Loop {
	return &Loop{store: store, exec: exec, stats: stats}
}

// Handle processes one delivery. Claims that reject the message
// (missing row, already judged) acknowledge and drop it without
// touching the counters, which keeps redelivery idempotent. Test order
// is shuffled so adversarial orderings cannot target a worker and load
// spreads across heterogeneous machines.
func (l *Loop) Handle(ctx context.Context, key domain.SubmissionKey, done func(err error)) {
	log := slog.With(
		slog.String("contest_id", key.ContestID),
		slog.String("problem_id", key.ProblemID),
		slog.Int64("submission_id", key.SubmissionID),
	)

	task, err := l.store.ClaimSubmission(ctx, key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Warn("submission claim rejected", slog.Any("error", err))
		observability.MessageDropped("not_found")
		done(nil)
		return
	case errors.Is(err, domain.ErrAlreadyJudged):
		log.Debug("submission already judged, dropping redelivery")
		observability.MessageDropped("already_judged")
		done(nil)
		return
	case err != nil:
		// Transient storage trouble. The submission row is untouched,
		// so the stuck-submission requeuer will publish it again.
		log.Error("submission claim failed", slog.Any("error", err))
		observability.MessageDropped("claim_failed")
		l.stats.Errors.Add(1)
		done(err)
		return
	}

	rand.Shuffle(len(task.Tests), func(i, j int) {
		task.Tests[i], task.Tests[j] = task.Tests[j], task.Tests[i]
	})

	err = l.exec.Submit(ctx, task, func(verdict domain.Verdict, err error) {
		l.stats.Processed.Add(1)
		if err != nil || verdict == domain.InternalError {
			l.stats.Errors.Add(1)
		}
		done(err)
	})
	if err != nil {
		log.Error("executor rejected task", slog.Any("error", err))
		l.stats.Errors.Add(1)
		done(err)
	}
}
