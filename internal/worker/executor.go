// Package worker wires the judging pipeline inside one worker process:
// the work loop claims submissions delivered by the broker consumer,
// the executor runs judge tasks on a fixed pool of slots, and the
// heartbeat maintains this process's liveness row.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opencontest/judge/internal/adapter/observability"
	"github.com/opencontest/judge/internal/domain"
	"github.com/opencontest/judge/internal/judge"
)

// Executor runs judge tasks on a fixed number of slots. Each slot owns
// its own controller, and through it one live sandbox driver at a time;
// the database pool hands out dedicated connections per transaction.
// Submit blocks while all slots are busy, which is what bounds the
// broker prefetch to the pool size.
type Executor struct {
	tasks chan execTask
	quit  chan struct{}
	once  sync.Once
}

type execTask struct {
	ctx  context.Context
	task *domain.JudgeTask
	done func(domain.Verdict, error)
}

// NewExecutor starts size slot goroutines.
func NewExecutor(store domain.JudgeStore, factory domain.DriverFactory, size int) *Executor {
	e := &Executor{
		tasks: make(chan execTask),
		quit:  make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		ctrl := judge.NewController(store, factory)
		go e.slot(i, ctrl)
	}
	slog.Info("executor started", slog.Int("slots", size))
	return e
}

func (e *Executor) slot(id int, ctrl *judge.Controller) {
	for {
		select {
		case <-e.quit:
			return
		case t := <-e.tasks:
			e.runTask(ctrl, t)
		}
	}
}

// runTask confines one task to one slot iteration. A panicking task
// reports InternalError through its callback and leaves the slot alive.
func (e *Executor) runTask(ctrl *judge.Controller, t execTask) {
	observability.TasksInFlight.Inc()
	defer observability.TasksInFlight.Dec()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("judge task panicked", slog.Any("panic", r))
			t.done(domain.InternalError, fmt.Errorf("op=executor.run: panic: %v", r))
		}
	}()
	verdict, err := ctrl.Run(t.ctx, t.task)
	t.done(verdict, err)
}

// Submit hands a task to a free slot, blocking until one accepts it.
// The done callback fires from the slot goroutine when the task has run
// to completion (or failed).
func (e *Executor) Submit(ctx context.Context, task *domain.JudgeTask, done func(domain.Verdict, error)) error {
	select {
	case e.tasks <- execTask{ctx: ctx, task: task, done: done}:
		return nil
	case <-e.quit:
		return fmt.Errorf("op=executor.submit: executor closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the pool down without waiting for running tasks; their
// broker deliveries stay unacknowledged and are redelivered.
func (e *Executor) Close() {
	e.once.Do(func() { close(e.quit) })
}
