package redpanda

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/opencontest/judge/internal/adapter/observability"
	"github.com/opencontest/judge/internal/domain"
)

// Handler receives one decoded judge job. It may block until the
// executor has a free slot (this is what bounds in-flight deliveries)
// and must eventually invoke done exactly once; the record is
// acknowledged to the broker only then. An error passed to done is
// informational: the record is acknowledged either way, because the
// work loop has already persisted whatever outcome it reached.
type Handler func(ctx context.Context, key domain.SubmissionKey, done func(err error))

// Consumer owns the broker connection for one worker process. Records
// are marked after completion and committed by the client's mark-only
// auto-commit, giving at-least-once delivery: anything unmarked at
// crash time is redelivered after the group rebalances.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	groupID string
}

// NewConsumer connects to the broker, declares the judge topic and
// joins the consumer group.
func NewConsumer(brokers []string, groupID string, handler Handler) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=queue.consumer: no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("op=queue.consumer: missing group ID")
	}

	tempClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("op=queue.consumer: %w", err)
	}
	if err := createTopicIfNotExists(context.Background(), tempClient, TopicJudge, judgePartitions, judgeReplicationFactor); err != nil {
		slog.Warn("topic declaration failed, it may already exist",
			slog.String("topic", TopicJudge), slog.Any("error", err))
	}
	tempClient.Close()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(TopicJudge),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.FetchMaxBytes(8<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.consumer: %w", err)
	}
	slog.Info("judge queue consumer created",
		slog.Any("brokers", brokers), slog.String("group_id", groupID))
	return &Consumer{client: client, handler: handler, groupID: groupID}, nil
}

// Start polls until the context is cancelled. Broker trouble is retried
// after a random delay in [1, 5] seconds; unacknowledged records are
// redelivered by the broker, so retries never lose work.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				slog.Error("fetch error",
					slog.String("topic", fe.Topic),
					slog.Int("partition", int(fe.Partition)),
					slog.Any("error", fe.Err))
			}
			c.sleepJittered(ctx)
			continue
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			c.deliver(ctx, rec)
		})
	}
}

// deliver decodes one record and hands it to the work loop. Malformed
// bodies are logged and acknowledged so the queue drains.
func (c *Consumer) deliver(ctx context.Context, rec *kgo.Record) {
	key, err := DecodeJudgeJob(rec.Value)
	if err != nil {
		slog.Warn("malformed judge message dropped",
			slog.Int64("offset", rec.Offset), slog.Any("error", err))
		observability.MessageDropped("malformed")
		c.client.MarkCommitRecords(rec)
		return
	}
	c.handler(ctx, key, func(err error) {
		if err != nil {
			slog.Error("judge task errored",
				slog.String("contest_id", key.ContestID),
				slog.String("problem_id", key.ProblemID),
				slog.Int64("submission_id", key.SubmissionID),
				slog.Any("error", err))
		}
		c.client.MarkCommitRecords(rec)
	})
}

// sleepJittered waits a uniform random delay in [1, 5] seconds before
// the next connection attempt.
func (c *Consumer) sleepJittered(ctx context.Context) {
	delay := time.Second + time.Duration(rand.Float64()*float64(4*time.Second))
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// Close commits outstanding marks and tears down the client.
func (c *Consumer) Close() {
	c.client.Close()
}
