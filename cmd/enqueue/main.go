// Package main provides a small CLI that publishes one submission to
// the judge queue. Useful for re-judging and operational recovery.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/opencontest/judge/internal/adapter/observability"
	"github.com/opencontest/judge/internal/adapter/queue/redpanda"
	"github.com/opencontest/judge/internal/config"
	"github.com/opencontest/judge/internal/domain"
)

func main() {
	var (
		configPath   string
		contestID    string
		problemID    string
		submissionID int64
	)
	flag.StringVar(&configPath, "config", "", "path to YAML config file")
	flag.StringVar(&contestID, "contest", "", "contest ID")
	flag.StringVar(&problemID, "problem", "", "problem ID")
	flag.Int64Var(&submissionID, "submission", 0, "submission ID")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(observability.SetupLogger(cfg))

	if contestID == "" || problemID == "" || submissionID == 0 {
		slog.Error("missing required flags", slog.String("usage", "-contest C -problem P -submission N"))
		os.Exit(2)
	}

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("queue producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer producer.Close()

	key := domain.SubmissionKey{
		ContestID:    contestID,
		ProblemID:    problemID,
		SubmissionID: submissionID,
	}
	if err := producer.PublishJudgeJob(context.Background(), key); err != nil {
		slog.Error("publish failed", slog.Any("error", err))
		os.Exit(1)
	}
}
