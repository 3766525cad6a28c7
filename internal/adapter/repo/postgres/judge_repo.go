package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"github.com/opencontest/judge/internal/domain"
)

// JudgeRepo persists submissions and judge results. It implements
// domain.JudgeStore.
type JudgeRepo struct {
	Pool *pgxpool.Pool
}

// NewJudgeRepo constructs a JudgeRepo with the given pool.
func NewJudgeRepo(p *pgxpool.Pool) *JudgeRepo { return &JudgeRepo{Pool: p} }

// resumableStatuses are the prior verdicts that schedule a test (or a
// whole submission) for judging again on redelivery.
func resumable(v domain.Verdict) bool {
	return v == domain.Waiting || v == domain.Running || v == domain.InternalError
}

// ClaimSubmission materializes a judge task inside one serializable
// transaction, holding FOR UPDATE on the submission row. Redelivered
// messages for finished submissions fail with ErrAlreadyJudged; tests
// whose prior result is final are excluded from the task so they are
// never re-executed.
func (r *JudgeRepo) ClaimSubmission(ctx context.Context, key domain.SubmissionKey) (*domain.JudgeTask, error) {
	tracer := otel.Tracer("repo.judge")
	ctx, span := tracer.Start(ctx, "judge.ClaimSubmission")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("op=judge.claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		userID        string
		code          []byte
		environmentID int64
		status        int16
	)
	err = tx.QueryRow(ctx,
		`SELECT user_id, code, environment_id, status
		   FROM submissions
		  WHERE contest_id=$1 AND problem_id=$2 AND id=$3
		    FOR UPDATE`,
		key.ContestID, key.ProblemID, key.SubmissionID,
	).Scan(&userID, &code, &environmentID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("op=judge.claim: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=judge.claim: %w", err)
	}
	if !resumable(domain.Verdict(status)) {
		return nil, fmt.Errorf("op=judge.claim: %w", domain.ErrAlreadyJudged)
	}

	var env domain.Environment
	err = tx.QueryRow(ctx,
		`SELECT id, name, active, published, compile_image_name, test_image_name
		   FROM environments WHERE id=$1`, environmentID,
	).Scan(&env.ID, &env.Name, &env.Active, &env.Published,
		&env.CompileImageName, &env.TestImageName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("op=judge.claim environment=%d: %w", environmentID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=judge.claim: %w", err)
	}

	var prob domain.Problem
	err = tx.QueryRow(ctx,
		`SELECT time_limit, memory_limit FROM problems
		  WHERE contest_id=$1 AND id=$2`, key.ContestID, key.ProblemID,
	).Scan(&prob.TimeLimit, &prob.MemoryLimit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("op=judge.claim problem=%s: %w", key.ProblemID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=judge.claim: %w", err)
	}

	type priorResult struct {
		status    domain.Verdict
		timeMs    *int64
		memoryKiB *int64
	}
	prior := map[string]priorResult{}
	rows, err := tx.Query(ctx,
		`SELECT test_id, status, time_ms, memory_kib FROM judge_results
		  WHERE contest_id=$1 AND problem_id=$2 AND submission_id=$3`,
		key.ContestID, key.ProblemID, key.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("op=judge.claim: %w", err)
	}
	for rows.Next() {
		var id string
		var st int16
		var pr priorResult
		if err := rows.Scan(&id, &st, &pr.timeMs, &pr.memoryKiB); err != nil {
			rows.Close()
			return nil, fmt.Errorf("op=judge.claim: %w", err)
		}
		pr.status = domain.Verdict(st)
		prior[id] = pr
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=judge.claim: %w", err)
	}

	task := &domain.JudgeTask{
		Key:              key,
		UserID:           userID,
		Code:             code,
		CompileImageName: env.CompileImageName,
		TestImageName:    env.TestImageName,
		TimeLimit:        prob.TimeLimit,
		MemoryLimit:      prob.MemoryLimit,
	}

	rows, err = tx.Query(ctx,
		`SELECT id, input, output FROM tests
		  WHERE contest_id=$1 AND problem_id=$2 ORDER BY id`,
		key.ContestID, key.ProblemID)
	if err != nil {
		return nil, fmt.Errorf("op=judge.claim: %w", err)
	}
	var fresh []string
	for rows.Next() {
		var tc domain.TaskTest
		if err := rows.Scan(&tc.ID, &tc.Input, &tc.Output); err != nil {
			rows.Close()
			return nil, fmt.Errorf("op=judge.claim: %w", err)
		}
		pr, seen := prior[tc.ID]
		switch {
		case !seen:
			fresh = append(fresh, tc.ID)
			task.Tests = append(task.Tests, tc)
		case resumable(pr.status):
			task.Tests = append(task.Tests, tc)
		default:
			// finished result, reused as-is
			task.PriorOutcomes = append(task.PriorOutcomes, domain.TestOutcome{
				Status:    pr.status,
				Time:      millisDuration(pr.timeMs),
				MemoryKiB: pr.memoryKiB,
			})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=judge.claim: %w", err)
	}

	for _, id := range fresh {
		_, err = tx.Exec(ctx,
			`INSERT INTO judge_results (contest_id, problem_id, submission_id, test_id, status)
			 VALUES ($1,$2,$3,$4,$5)`,
			key.ContestID, key.ProblemID, key.SubmissionID, id, int16(domain.Waiting))
		if err != nil {
			return nil, fmt.Errorf("op=judge.claim: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE submissions SET status=$4, updated=now()
		  WHERE contest_id=$1 AND problem_id=$2 AND id=$3`,
		key.ContestID, key.ProblemID, key.SubmissionID, int16(domain.Running))
	if err != nil {
		return nil, fmt.Errorf("op=judge.claim: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("op=judge.claim: %w", err)
	}
	return task, nil
}

// SetSubmissionStatus updates only the status column.
func (r *JudgeRepo) SetSubmissionStatus(ctx context.Context, key domain.SubmissionKey, v domain.Verdict) error {
	tracer := otel.Tracer("repo.judge")
	ctx, span := tracer.Start(ctx, "judge.SetSubmissionStatus")
	defer span.End()
	_, err := r.Pool.Exec(ctx,
		`UPDATE submissions SET status=$4, updated=now()
		  WHERE contest_id=$1 AND problem_id=$2 AND id=$3`,
		key.ContestID, key.ProblemID, key.SubmissionID, int16(v))
	if err != nil {
		return fmt.Errorf("op=judge.set_status: %w", err)
	}
	return nil
}

// FailEverything propagates a pre-test verdict (compilation failure) to
// the submission and all of its judge_results in one transaction.
func (r *JudgeRepo) FailEverything(ctx context.Context, key domain.SubmissionKey, v domain.Verdict) error {
	tracer := otel.Tracer("repo.judge")
	ctx, span := tracer.Start(ctx, "judge.FailEverything")
	defer span.End()
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=judge.fail_everything: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	_, err = tx.Exec(ctx,
		`UPDATE submissions SET status=$4, updated=now()
		  WHERE contest_id=$1 AND problem_id=$2 AND id=$3`,
		key.ContestID, key.ProblemID, key.SubmissionID, int16(v))
	if err != nil {
		return fmt.Errorf("op=judge.fail_everything: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE judge_results SET status=$4
		  WHERE contest_id=$1 AND problem_id=$2 AND submission_id=$3`,
		key.ContestID, key.ProblemID, key.SubmissionID, int16(v))
	if err != nil {
		return fmt.Errorf("op=judge.fail_everything: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=judge.fail_everything: %w", err)
	}
	return nil
}

// FinishSubmission writes the terminal submission row.
func (r *JudgeRepo) FinishSubmission(ctx context.Context, key domain.SubmissionKey, fin domain.SubmissionFinish) error {
	tracer := otel.Tracer("repo.judge")
	ctx, span := tracer.Start(ctx, "judge.FinishSubmission")
	defer span.End()
	_, err := r.Pool.Exec(ctx,
		`UPDATE submissions
		    SET status=$4, compile_time_ms=$5, max_time_ms=$6, max_memory_kib=$7, updated=now()
		  WHERE contest_id=$1 AND problem_id=$2 AND id=$3`,
		key.ContestID, key.ProblemID, key.SubmissionID,
		int16(fin.Status), durationMillis(fin.CompileTime), durationMillis(fin.MaxTime), fin.MaxMemoryKiB)
	if err != nil {
		return fmt.Errorf("op=judge.finish: %w", err)
	}
	return nil
}

// Per-test writes also refresh submissions.updated: a submission with
// live test progress is not stuck, however long the run takes.
const (
	markTestRunningSQL = `
		WITH result AS (
			UPDATE judge_results SET status=$5
			 WHERE contest_id=$1 AND problem_id=$2 AND submission_id=$3 AND test_id=$4
		)
		UPDATE submissions SET updated=now()
		 WHERE contest_id=$1 AND problem_id=$2 AND id=$3`

	writeTestOutcomeSQL = `
		WITH result AS (
			UPDATE judge_results SET status=$5, time_ms=COALESCE($6, time_ms), memory_kib=COALESCE($7, memory_kib)
			 WHERE contest_id=$1 AND problem_id=$2 AND submission_id=$3 AND test_id=$4
		)
		UPDATE submissions SET updated=now()
		 WHERE contest_id=$1 AND problem_id=$2 AND id=$3`
)

// MarkTestRunning sets one judge_result to Running in its own short
// transaction; the submission row stays unlocked.
func (r *JudgeRepo) MarkTestRunning(ctx context.Context, key domain.SubmissionKey, testID string) error {
	tracer := otel.Tracer("repo.judge")
	ctx, span := tracer.Start(ctx, "judge.MarkTestRunning")
	defer span.End()
	_, err := r.Pool.Exec(ctx, markTestRunningSQL,
		key.ContestID, key.ProblemID, key.SubmissionID, testID, int16(domain.Running))
	if err != nil {
		return fmt.Errorf("op=judge.mark_running: %w", err)
	}
	return nil
}

// WriteTestOutcome records the judged outcome for one test.
func (r *JudgeRepo) WriteTestOutcome(ctx context.Context, key domain.SubmissionKey, testID string, out domain.TestOutcome) error {
	tracer := otel.Tracer("repo.judge")
	ctx, span := tracer.Start(ctx, "judge.WriteTestOutcome")
	defer span.End()
	_, err := r.Pool.Exec(ctx, writeTestOutcomeSQL,
		key.ContestID, key.ProblemID, key.SubmissionID, testID,
		int16(out.Status), durationMillis(out.Time), out.MemoryKiB)
	if err != nil {
		return fmt.Errorf("op=judge.write_outcome: %w", err)
	}
	return nil
}

// ListStuckSubmissions returns submissions sitting in a non-final state
// with no progress write for longer than cutoff. Oldest first, capped
// at limit rows per sweep.
func (r *JudgeRepo) ListStuckSubmissions(ctx context.Context, cutoff time.Duration, limit int) ([]domain.SubmissionKey, error) {
	tracer := otel.Tracer("repo.judge")
	ctx, span := tracer.Start(ctx, "judge.ListStuckSubmissions")
	defer span.End()
	rows, err := r.Pool.Query(ctx,
		`SELECT contest_id, problem_id, id FROM submissions
		  WHERE status = ANY($1)
		    AND updated < now() - $2::interval
		  ORDER BY updated
		  LIMIT $3`,
		[]int16{int16(domain.Waiting), int16(domain.Running), int16(domain.InternalError)},
		fmt.Sprintf("%d milliseconds", cutoff.Milliseconds()), limit)
	if err != nil {
		return nil, fmt.Errorf("op=judge.list_stuck: %w", err)
	}
	defer rows.Close()
	var keys []domain.SubmissionKey
	for rows.Next() {
		var key domain.SubmissionKey
		if err := rows.Scan(&key.ContestID, &key.ProblemID, &key.SubmissionID); err != nil {
			return nil, fmt.Errorf("op=judge.list_stuck: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=judge.list_stuck: %w", err)
	}
	return keys, nil
}

func durationMillis(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

func millisDuration(ms *int64) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}
