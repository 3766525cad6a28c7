package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"github.com/opencontest/judge/internal/domain"
)

// WorkersRepo maintains worker liveness rows. It implements
// domain.WorkerRegistry.
type WorkersRepo struct {
	Pool *pgxpool.Pool
}

// NewWorkersRepo constructs a WorkersRepo with the given pool.
func NewWorkersRepo(p *pgxpool.Pool) *WorkersRepo { return &WorkersRepo{Pool: p} }

// Register upserts this process's liveness row. A row left behind by a
// previous process with the same (hostname, pid) is taken over.
func (r *WorkersRepo) Register(ctx context.Context, w domain.WorkerInfo) error {
	tracer := otel.Tracer("repo.workers")
	ctx, span := tracer.Start(ctx, "workers.Register")
	defer span.End()
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO workers (hostname, pid, max_processes, startup_time, last_contact, processed, errors)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (hostname, pid) DO UPDATE
		    SET max_processes=EXCLUDED.max_processes,
		        startup_time=EXCLUDED.startup_time,
		        last_contact=EXCLUDED.last_contact,
		        processed=EXCLUDED.processed,
		        errors=EXCLUDED.errors`,
		w.Hostname, w.PID, w.MaxProcesses, w.StartupTime.UTC(), w.LastContact.UTC(), w.Processed, w.Errors)
	if err != nil {
		return fmt.Errorf("op=workers.register: %w", err)
	}
	return nil
}

// Beat refreshes last_contact and the counters for this process's row.
func (r *WorkersRepo) Beat(ctx context.Context, hostname string, pid int, processed, errCount int64) error {
	tracer := otel.Tracer("repo.workers")
	ctx, span := tracer.Start(ctx, "workers.Beat")
	defer span.End()
	_, err := r.Pool.Exec(ctx,
		`UPDATE workers SET last_contact=now(), processed=$3, errors=$4
		  WHERE hostname=$1 AND pid=$2`,
		hostname, pid, processed, errCount)
	if err != nil {
		return fmt.Errorf("op=workers.beat: %w", err)
	}
	return nil
}

// ReapStale deletes rows whose last_contact is older than the cutoff
// and returns how many were removed. Any peer may reap; the sweep is a
// pure GC with no consistency implications.
func (r *WorkersRepo) ReapStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tracer := otel.Tracer("repo.workers")
	ctx, span := tracer.Start(ctx, "workers.ReapStale")
	defer span.End()
	tag, err := r.Pool.Exec(ctx,
		`DELETE FROM workers WHERE last_contact < now() - $1::interval`,
		fmt.Sprintf("%d milliseconds", olderThan.Milliseconds()))
	if err != nil {
		return 0, fmt.Errorf("op=workers.reap: %w", err)
	}
	return tag.RowsAffected(), nil
}
