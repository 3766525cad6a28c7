// Package redpanda integrates the judge pipeline with a Redpanda/Kafka
// broker: the producer publishes submission triples to the judge queue
// topic and the consumer delivers them to the work loop with bounded
// in-flight tasks and at-least-once acknowledgement.
package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/opencontest/judge/internal/domain"
)

// Producer publishes judge jobs. It implements domain.Queue and serves
// the submission-producer contract: the HTTP API and the enqueue CLI
// both publish through it.
type Producer struct {
	client *kgo.Client
}

// NewProducer connects to the broker and declares the judge topic.
func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=queue.producer: no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.producer: %w", err)
	}
	if err := createTopicIfNotExists(context.Background(), client, TopicJudge, judgePartitions, judgeReplicationFactor); err != nil {
		slog.Warn("topic declaration failed, it may already exist",
			slog.String("topic", TopicJudge), slog.Any("error", err))
	}
	return &Producer{client: client}, nil
}

// PublishJudgeJob publishes one submission triple. The submission key
// is also the record key, so redeliveries of the same submission land
// on the same partition and stay ordered.
func (p *Producer) PublishJudgeJob(ctx context.Context, key domain.SubmissionKey) error {
	body, err := EncodeJudgeJob(key)
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Topic: TopicJudge,
		Key:   []byte(fmt.Sprintf("%s/%s/%d", key.ContestID, key.ProblemID, key.SubmissionID)),
		Value: body,
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("op=queue.publish: %w", err)
	}
	slog.Info("judge job published",
		slog.String("contest_id", key.ContestID),
		slog.String("problem_id", key.ProblemID),
		slog.Int64("submission_id", key.SubmissionID))
	return nil
}

// Close closes the producer.
func (p *Producer) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
