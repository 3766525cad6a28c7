package redpanda

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/opencontest/judge/internal/domain"
)

// judgeJob is the broker message body: a positional MessagePack array
// [contest_id, problem_id, submission_id]. Positional encoding keeps
// the format deterministic across producer and worker regardless of
// implementation language.
type judgeJob struct {
	_msgpack     struct{} `msgpack:",as_array"`
	ContestID    string
	ProblemID    string
	SubmissionID int64
}

// EncodeJudgeJob serializes the submission triple for publishing.
func EncodeJudgeJob(key domain.SubmissionKey) ([]byte, error) {
	b, err := msgpack.Marshal(judgeJob{
		ContestID:    key.ContestID,
		ProblemID:    key.ProblemID,
		SubmissionID: key.SubmissionID,
	})
	if err != nil {
		return nil, fmt.Errorf("op=queue.encode: %w", err)
	}
	return b, nil
}

// DecodeJudgeJob parses a delivery body. Malformed bodies map to
// ErrMalformedMessage so the consumer can ack and drop them.
func DecodeJudgeJob(b []byte) (domain.SubmissionKey, error) {
	var job judgeJob
	if err := msgpack.Unmarshal(b, &job); err != nil {
		return domain.SubmissionKey{}, fmt.Errorf("op=queue.decode: %w: %w", domain.ErrMalformedMessage, err)
	}
	if job.ContestID == "" || job.ProblemID == "" {
		return domain.SubmissionKey{}, fmt.Errorf("op=queue.decode: empty ids: %w", domain.ErrMalformedMessage)
	}
	return domain.SubmissionKey{
		ContestID:    job.ContestID,
		ProblemID:    job.ProblemID,
		SubmissionID: job.SubmissionID,
	}, nil
}
