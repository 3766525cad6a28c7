// Package main provides the judge worker entry point. The worker
// consumes submission keys from the judge queue, runs each submission
// through the sandbox pipeline and persists verdicts to Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opencontest/judge/internal/adapter/observability"
	"github.com/opencontest/judge/internal/adapter/queue/redpanda"
	"github.com/opencontest/judge/internal/adapter/repo/postgres"
	"github.com/opencontest/judge/internal/adapter/sandbox/docker"
	"github.com/opencontest/judge/internal/config"
	"github.com/opencontest/judge/internal/worker"
)

const (
	consumerGroupID = "judge-workers"
	requeueInterval = time.Minute
	requeueCutoff   = 10 * time.Minute
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := chi.NewRouter()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		addr := fmt.Sprintf(":%d", cfg.OpsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("ops server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting judge worker",
		slog.String("env", cfg.AppEnv),
		slog.Int("pool_size", cfg.PoolSize()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.Bootstrap(ctx, pool); err != nil {
		slog.Error("schema bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}

	judgeRepo := postgres.NewJudgeRepo(pool)
	workersRepo := postgres.NewWorkersRepo(pool)

	factory, err := docker.NewFactory()
	if err != nil {
		slog.Error("docker client init failed", slog.Any("error", err))
		os.Exit(1)
	}

	exec := worker.NewExecutor(judgeRepo, factory.Driver(), cfg.PoolSize())
	defer exec.Close()

	stats := &worker.Stats{}
	loop := worker.NewLoop(judgeRepo, exec, stats)

	consumer, err := redpanda.NewConsumer(cfg.KafkaBrokers, consumerGroupID, loop.Handle)
	if err != nil {
		slog.Error("queue consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer consumer.Close()

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("queue producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer producer.Close()

	hb := worker.NewHeartbeat(workersRepo, stats, cfg.PoolSize(), cfg.HeartbeatInterval)
	go hb.Run(ctx)

	requeuer := worker.NewRequeuer(judgeRepo, producer, requeueInterval, requeueCutoff)
	go requeuer.Run(ctx)

	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("consumer stopped", slog.Any("error", err))
			stop()
		}
	}()

	slog.Info("judge worker started, waiting for shutdown signal")
	<-ctx.Done()
	slog.Info("signal received, shutting down")
}
