package worker

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/opencontest/judge/internal/adapter/observability"
	"github.com/opencontest/judge/internal/domain"
)

// staleAfterIntervals is how many heartbeat intervals a peer may miss
// before any worker reaps its liveness row.
const staleAfterIntervals = 10

// sweepProbability is the chance of running the stale-row sweep on a
// given tick (the first tick always sweeps). The sweep is a pure GC.
const sweepProbability = 0.01

// Heartbeat maintains this process's row in the workers table and
// occasionally reaps rows of dead peers.
type Heartbeat struct {
	reg          domain.WorkerRegistry
	stats        *Stats
	hostname     string
	pid          int
	maxProcesses int
	interval     time.Duration
}

// NewHeartbeat constructs a Heartbeat for this process.
func NewHeartbeat(reg domain.WorkerRegistry, stats *Stats, maxProcesses int, interval time.Duration) *Heartbeat {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Heartbeat{
		reg:          reg,
		stats:        stats,
		hostname:     hostname,
		pid:          os.Getpid(),
		maxProcesses: maxProcesses,
		interval:     interval,
	}
}

// Run registers the worker row and beats until the context is
// cancelled. Each tick is jittered by ±1 s so co-started workers do not
// thunder against the database.
func (h *Heartbeat) Run(ctx context.Context) {
	now := time.Now()
	if err := h.reg.Register(ctx, domain.WorkerInfo{
		Hostname:     h.hostname,
		PID:          h.pid,
		MaxProcesses: h.maxProcesses,
		StartupTime:  now,
		LastContact:  now,
	}); err != nil {
		slog.Error("worker registration failed", slog.Any("error", err))
	}
	slog.Info("heartbeat started",
		slog.String("hostname", h.hostname),
		slog.Int("pid", h.pid),
		slog.Duration("interval", h.interval))

	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(h.jittered()):
		}
		if err := h.reg.Beat(ctx, h.hostname, h.pid, h.stats.Processed.Load(), h.stats.Errors.Load()); err != nil {
			slog.Error("heartbeat update failed", slog.Any("error", err))
		}
		if first || rand.Float64() < sweepProbability {
			h.sweep(ctx)
		}
		first = false
	}
}

func (h *Heartbeat) sweep(ctx context.Context) {
	reaped, err := h.reg.ReapStale(ctx, staleAfterIntervals*h.interval)
	if err != nil {
		slog.Error("stale worker sweep failed", slog.Any("error", err))
		return
	}
	if reaped > 0 {
		slog.Info("reaped stale worker rows", slog.Int64("count", reaped))
		observability.HeartbeatSweeps.Add(float64(reaped))
	}
}

// jittered returns the interval shifted by a uniform ±1 s.
func (h *Heartbeat) jittered() time.Duration {
	offset := time.Duration((rand.Float64()*2 - 1) * float64(time.Second))
	return h.interval + offset
}
