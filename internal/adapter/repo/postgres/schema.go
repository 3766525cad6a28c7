package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements create the judging tables. Everything is IF NOT
// EXISTS so that co-starting workers converge on the same schema.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS contests (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		start_time TIMESTAMPTZ,
		end_time TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS problems (
		contest_id TEXT NOT NULL,
		id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		time_limit INT NOT NULL,
		memory_limit INT NOT NULL,
		PRIMARY KEY (contest_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS environments (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		published BOOLEAN NOT NULL DEFAULT FALSE,
		compile_image_name TEXT,
		test_image_name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tests (
		contest_id TEXT NOT NULL,
		problem_id TEXT NOT NULL,
		id TEXT NOT NULL,
		input BYTEA NOT NULL,
		output BYTEA NOT NULL,
		PRIMARY KEY (contest_id, problem_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS submissions (
		contest_id TEXT NOT NULL,
		problem_id TEXT NOT NULL,
		id BIGINT NOT NULL,
		user_id TEXT NOT NULL,
		code BYTEA NOT NULL,
		environment_id BIGINT NOT NULL,
		status SMALLINT NOT NULL DEFAULT 0,
		compile_time_ms BIGINT,
		max_time_ms BIGINT,
		max_memory_kib BIGINT,
		created TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (contest_id, problem_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS submissions_contest_problem_idx
		ON submissions (contest_id, problem_id)`,
	`CREATE TABLE IF NOT EXISTS judge_results (
		contest_id TEXT NOT NULL,
		problem_id TEXT NOT NULL,
		submission_id BIGINT NOT NULL,
		test_id TEXT NOT NULL,
		status SMALLINT NOT NULL DEFAULT 0,
		time_ms BIGINT,
		memory_kib BIGINT,
		PRIMARY KEY (contest_id, problem_id, submission_id, test_id)
	)`,
	`CREATE TABLE IF NOT EXISTS workers (
		hostname TEXT NOT NULL,
		pid INT NOT NULL,
		max_processes INT NOT NULL,
		startup_time TIMESTAMPTZ NOT NULL,
		last_contact TIMESTAMPTZ NOT NULL,
		processed BIGINT NOT NULL DEFAULT 0,
		errors BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (hostname, pid)
	)`,
}

// Bootstrap creates the schema. Co-starting workers can race each other
// inside CREATE IF NOT EXISTS (duplicate key on pg_type / pg_class), so
// each statement is retried with short jittered backoff until it
// succeeds or a peer has completed it.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 50 * time.Millisecond
		bo.MaxInterval = 100 * time.Millisecond
		bo.MaxElapsedTime = 10 * time.Second
		op := func() error {
			_, err := pool.Exec(ctx, stmt)
			if err != nil {
				slog.Debug("schema statement retry", slog.Any("error", err))
			}
			return err
		}
		if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
			return fmt.Errorf("op=schema.bootstrap: %w", err)
		}
	}
	return nil
}
