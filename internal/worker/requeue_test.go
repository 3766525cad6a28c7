package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencontest/judge/internal/domain"
)

type stubScanner struct {
	mu     sync.Mutex
	keys   []domain.SubmissionKey
	err    error
	cutoff time.Duration
}

func (s *stubScanner) ListStuckSubmissions(_ context.Context, cutoff time.Duration, _ int) ([]domain.SubmissionKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoff = cutoff
	return s.keys, s.err
}

type stubQueue struct {
	mu        sync.Mutex
	published []domain.SubmissionKey
	notify    chan struct{}
	once      sync.Once
}

func newStubQueue() *stubQueue { return &stubQueue{notify: make(chan struct{})} }

func (q *stubQueue) PublishJudgeJob(_ context.Context, key domain.SubmissionKey) error {
	q.mu.Lock()
	q.published = append(q.published, key)
	q.mu.Unlock()
	q.once.Do(func() { close(q.notify) })
	return nil
}

func TestRequeuerRepublishesStuck(t *testing.T) {
	stuck := []domain.SubmissionKey{
		{ContestID: "c", ProblemID: "p", SubmissionID: 1},
		{ContestID: "c", ProblemID: "p", SubmissionID: 2},
	}
	scanner := &stubScanner{keys: stuck}
	queue := newStubQueue()
	r := NewRequeuer(scanner, queue, 5*time.Millisecond, 10*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	select {
	case <-queue.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("nothing republished")
	}
	require.Eventually(t, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		return len(queue.published) >= 2
	}, 5*time.Second, time.Millisecond)
	cancel()

	queue.mu.Lock()
	defer queue.mu.Unlock()
	assert.Subset(t, queue.published, stuck)

	scanner.mu.Lock()
	defer scanner.mu.Unlock()
	assert.Equal(t, 10*time.Minute, scanner.cutoff)
}

func TestRequeuerSurvivesScanFailure(t *testing.T) {
	scanner := &stubScanner{err: errors.New("db down")}
	queue := newStubQueue()
	r := NewRequeuer(scanner, queue, time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()

	queue.mu.Lock()
	defer queue.mu.Unlock()
	assert.Empty(t, queue.published)
}
