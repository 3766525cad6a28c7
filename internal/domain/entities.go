// Package domain defines the entities, ports and error taxonomy of the
// judging pipeline. Adapters (postgres, redpanda, docker) implement the
// ports; the controller and work loop depend only on this package.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyJudged    = errors.New("already judged")
	ErrMalformedMessage = errors.New("malformed message")
	ErrDecodeFrame      = errors.New("frame decode error")
	ErrAgentClosed      = errors.New("agent stream closed")
	ErrInternal         = errors.New("internal error")
)

// SubmissionKey identifies one submission. Contest and problem ids are
// strings chosen by contest admins; submission ids are allocated by the
// API as integers.
type SubmissionKey struct {
	ContestID    string
	ProblemID    string
	SubmissionID int64
}

// Submission is the unit of work. Code is stored zstd-compressed.
// Once Status is final, MaxTime and MaxMemory reflect the worst observed
// across completed tests and CompileTime is set iff a compile phase ran
// successfully.
type Submission struct {
	ContestID     string
	ProblemID     string
	ID            int64
	UserID        string
	Code          []byte
	EnvironmentID int64
	Status        Verdict
	CompileTime   *time.Duration
	MaxTime       *time.Duration
	MaxMemoryKiB  *int64
	Created       time.Time
}

// JudgeResult is one row per (submission, test case). Rows are created
// when the work loop claims the task and mutated only by the judge
// controller for that submission.
type JudgeResult struct {
	ContestID    string
	ProblemID    string
	SubmissionID int64
	TestID       string
	Status       Verdict
	Time         *time.Duration
	MemoryKiB    *int64
}

// TestCase input/output are stored zstd-compressed and are immutable
// during judging.
type TestCase struct {
	ContestID string
	ProblemID string
	ID        string
	Input     []byte
	Output    []byte
}

// Environment describes a language environment. A nil CompileImageName
// means the language has no compile phase.
type Environment struct {
	ID               int64
	Name             string
	Active           bool
	Published        bool
	CompileImageName *string
	TestImageName    string
}

// Problem carries the judging limits. TimeLimit is seconds, MemoryLimit
// is MiB, as consumed by the agent protocol.
type Problem struct {
	ContestID   string
	ID          string
	Title       string
	TimeLimit   int
	MemoryLimit int
}

// WorkerInfo is the liveness row for one worker process, keyed by
// (hostname, pid).
type WorkerInfo struct {
	Hostname     string
	PID          int
	MaxProcesses int
	StartupTime  time.Time
	LastContact  time.Time
	Processed    int64
	Errors       int64
}

// TestOutcome is the judged outcome of a single test.
type TestOutcome struct {
	Status    Verdict
	Time      *time.Duration
	MemoryKiB *int64
}

// SubmissionFinish is the terminal update for a submission row.
type SubmissionFinish struct {
	Status       Verdict
	CompileTime  *time.Duration
	MaxTime      *time.Duration
	MaxMemoryKiB *int64
}

// JudgeStore is the persistence port used by the work loop and the
// controller. Claiming happens in one serializable transaction holding
// a row lock on the submission; per-test updates are short independent
// transactions that do not lock the submission row.
type JudgeStore interface {
	// ClaimSubmission locks the submission row, rejects rows that are
	// missing (ErrNotFound) or already judged (ErrAlreadyJudged),
	// materializes the judge task including resumable tests, inserts
	// Waiting judge_results for new tests and flips the submission to
	// Running before committing.
	ClaimSubmission(ctx context.Context, key SubmissionKey) (*JudgeTask, error)
	// MarkTestRunning sets one judge_result row to Running.
	MarkTestRunning(ctx context.Context, key SubmissionKey, testID string) error
	// WriteTestOutcome records the judged outcome for one test.
	WriteTestOutcome(ctx context.Context, key SubmissionKey, testID string, out TestOutcome) error
	// SetSubmissionStatus updates only the submission status.
	SetSubmissionStatus(ctx context.Context, key SubmissionKey, v Verdict) error
	// FailEverything sets the submission and all of its judge_results to
	// the given verdict in one transaction (compilation failures).
	FailEverything(ctx context.Context, key SubmissionKey, v Verdict) error
	// FinishSubmission writes the terminal submission row.
	FinishSubmission(ctx context.Context, key SubmissionKey, fin SubmissionFinish) error
}

// WorkerRegistry is the liveness port for the heartbeat.
type WorkerRegistry interface {
	Register(ctx context.Context, w WorkerInfo) error
	Beat(ctx context.Context, hostname string, pid int, processed, errors int64) error
	ReapStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Queue is the producer port: the submission API and the enqueue CLI
// publish judge messages through it.
type Queue interface {
	PublishJudgeJob(ctx context.Context, key SubmissionKey) error
}
