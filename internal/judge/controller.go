// Package judge contains the controller that turns one claimed judge
// task into persisted per-test results and a final submission verdict.
package judge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/opencontest/judge/internal/adapter/observability"
	"github.com/opencontest/judge/internal/domain"
)

// Controller drives the phases of one judge task: decompress, prepare,
// compile, run tests, aggregate, persist. One controller serves one
// executor slot; it owns one live driver at a time.
type Controller struct {
	store     domain.JudgeStore
	newDriver domain.DriverFactory
}

// NewController constructs a Controller.
func NewController(store domain.JudgeStore, factory domain.DriverFactory) *Controller {
	return &Controller{store: store, newDriver: factory}
}

// Run judges the task to completion and returns the final submission
// verdict. Persistence failures abort the run with an error, leaving
// the submission Running so that broker redelivery resumes it.
func (c *Controller) Run(ctx context.Context, task *domain.JudgeTask) (domain.Verdict, error) {
	tracer := otel.Tracer("judge.controller")
	ctx, span := tracer.Start(ctx, "judge.Run")
	defer span.End()

	started := time.Now()
	log := slog.With(
		slog.String("contest_id", task.Key.ContestID),
		slog.String("problem_id", task.Key.ProblemID),
		slog.Int64("submission_id", task.Key.SubmissionID),
	)
	log.Info("judge start", slog.String("user_id", task.UserID), slog.Int("tests", len(task.Tests)))

	verdict, err := c.run(ctx, task, log)
	if err != nil {
		return verdict, err
	}
	observability.TaskFinished(verdict.String(), time.Since(started).Seconds())
	log.Info("judge finished", slog.String("verdict", verdict.String()))
	return verdict, nil
}

func (c *Controller) run(ctx context.Context, task *domain.JudgeTask, log *slog.Logger) (domain.Verdict, error) {
	if err := c.decompress(task); err != nil {
		log.Warn("decompress failed", slog.Any("error", err))
		return c.abort(ctx, task, domain.InternalError)
	}

	driver, err := c.newDriver()
	if err != nil {
		log.Warn("driver construction failed", slog.Any("error", err))
		return c.abort(ctx, task, domain.InternalError)
	}
	defer driver.Close()

	if err := driver.Prepare(ctx, task); err != nil {
		log.Warn("prepare failed", slog.Any("error", err))
		return c.abort(ctx, task, domain.InternalError)
	}

	if task.CompileImageName != nil {
		res, verdict, err := driver.Compile(ctx, task)
		if err != nil {
			log.Warn("compile phase failed", slog.Any("error", err))
			verdict = domain.InternalError
		}
		if res == nil {
			if ferr := c.store.FailEverything(ctx, task.Key, verdict); ferr != nil {
				return domain.InternalError, ferr
			}
			log.Info("judge stopped before tests", slog.String("verdict", verdict.String()))
			return verdict, nil
		}
		task.Code = res.Binary
		ct := secondsDuration(res.Time)
		task.CompileTime = &ct
	}

	outcomes := append([]domain.TestOutcome(nil), task.PriorOutcomes...)
	var storeErr error

	onStart := func(testID string) {
		if err := c.store.MarkTestRunning(ctx, task.Key, testID); err != nil && storeErr == nil {
			storeErr = err
		}
	}
	onResult := func(test *domain.TaskTest, resp domain.AgentResponse) {
		out := c.judgeOne(test, resp, log)
		observability.TestJudged(out.Status.String())
		if err := c.store.WriteTestOutcome(ctx, task.Key, test.ID, out); err != nil && storeErr == nil {
			storeErr = err
		}
		outcomes = append(outcomes, out)
	}

	if err := driver.RunTests(ctx, task, onStart, onResult); err != nil {
		// Remaining tests record no status; the aggregate is forced to
		// InternalError by appending one synthetic outcome.
		log.Warn("test phase aborted", slog.Any("error", err))
		outcomes = append(outcomes, domain.TestOutcome{Status: domain.InternalError})
	}
	if storeErr != nil {
		return domain.InternalError, fmt.Errorf("op=judge.run: %w", storeErr)
	}

	fin := aggregate(outcomes)
	fin.CompileTime = task.CompileTime
	if err := c.store.FinishSubmission(ctx, task.Key, fin); err != nil {
		return domain.InternalError, fmt.Errorf("op=judge.run: %w", err)
	}
	return fin.Status, nil
}

// judgeOne converts one agent response into a test outcome. Correctness
// of a normal execution is decided host-side by output comparison; an
// agent-signaled error carries the verdict by name, and an unknown name
// counts as an internal error for that test only.
func (c *Controller) judgeOne(test *domain.TaskTest, resp domain.AgentResponse, log *slog.Logger) domain.TestOutcome {
	var out domain.TestOutcome
	switch {
	case resp.Result != nil:
		r := resp.Result
		if OutputsEqual(test.Output, r.Output) {
			out.Status = domain.Accepted
		} else {
			out.Status = domain.WrongAnswer
		}
		t := secondsDuration(r.Time)
		out.Time = &t
		kib := r.MemoryBytes / 1024
		out.MemoryKiB = &kib
	case resp.Error != nil:
		e := resp.Error
		v, err := domain.ParseVerdict(e.Kind)
		if err != nil {
			log.Warn("unknown agent error kind", slog.String("kind", e.Kind), slog.String("test_id", test.ID))
			v = domain.InternalError
		}
		out.Status = v
		if e.Time != nil {
			t := secondsDuration(*e.Time)
			out.Time = &t
		}
		if e.MemoryBytes != nil {
			kib := *e.MemoryBytes / 1024
			out.MemoryKiB = &kib
		}
	default:
		out.Status = domain.InternalError
	}
	return out
}

// abort marks the submission itself and gives up; per-test rows keep
// whatever status they had.
func (c *Controller) abort(ctx context.Context, task *domain.JudgeTask, v domain.Verdict) (domain.Verdict, error) {
	if err := c.store.SetSubmissionStatus(ctx, task.Key, v); err != nil {
		return v, fmt.Errorf("op=judge.abort: %w", err)
	}
	return v, nil
}

func (c *Controller) decompress(task *domain.JudgeTask) error {
	code, err := Decompress(task.Code)
	if err != nil {
		return err
	}
	task.Code = code
	for i := range task.Tests {
		in, err := Decompress(task.Tests[i].Input)
		if err != nil {
			return err
		}
		out, err := Decompress(task.Tests[i].Output)
		if err != nil {
			return err
		}
		task.Tests[i].Input = in
		task.Tests[i].Output = out
	}
	return nil
}

// aggregate folds the outcomes into the terminal submission row:
// verdict by the domain priority, max time and memory over the non-nil
// measurements.
func aggregate(outcomes []domain.TestOutcome) domain.SubmissionFinish {
	fin := domain.SubmissionFinish{}
	verdicts := make([]domain.Verdict, 0, len(outcomes))
	for _, out := range outcomes {
		verdicts = append(verdicts, out.Status)
		if out.Time != nil && (fin.MaxTime == nil || *fin.MaxTime < *out.Time) {
			t := *out.Time
			fin.MaxTime = &t
		}
		if out.MemoryKiB != nil && (fin.MaxMemoryKiB == nil || *fin.MaxMemoryKiB < *out.MemoryKiB) {
			m := *out.MemoryKiB
			fin.MaxMemoryKiB = &m
		}
	}
	fin.Status = domain.AggregateVerdicts(verdicts)
	return fin
}

func secondsDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
