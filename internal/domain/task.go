package domain

import (
	"context"
	"time"
)

// TaskTest is one test case bundled into a judge task. Input and Output
// arrive zstd-compressed from storage and are decompressed in place by
// the controller before any agent traffic.
type TaskTest struct {
	ID     string
	Input  []byte
	Output []byte
}

// JudgeTask is the in-memory bundle the controller consumes. It is
// materialized inside the claim transaction and owned by exactly one
// executor slot afterwards.
type JudgeTask struct {
	Key              SubmissionKey
	UserID           string
	Code             []byte
	CompileImageName *string
	TestImageName    string
	TimeLimit        int
	MemoryLimit      int
	Tests            []TaskTest
	// PriorOutcomes are finished results reused from an interrupted
	// run. They are never re-executed but participate in verdict
	// aggregation and the max time/memory computation.
	PriorOutcomes []TestOutcome
	CompileTime   *time.Duration
}

// AgentCompilation is the agent's successful compile response: the
// produced binary and the compile time in seconds.
type AgentCompilation struct {
	Binary []byte
	Time   float64
}

// AgentTestResult is the agent's response for one normally executed
// test. Correctness is judged host-side; the agent only reports the
// produced output and resource usage.
type AgentTestResult struct {
	Output      []byte
	Time        float64
	MemoryBytes int64
}

// AgentError is any terminal failure the agent signals. Kind names a
// Verdict (case-insensitive); time/memory are optional.
type AgentError struct {
	Kind        string
	Time        *float64
	MemoryBytes *int64
}

// AgentResponse is the tagged union delivered to the controller's
// per-test callback: exactly one of AgentTestResult or AgentError.
type AgentResponse struct {
	Result *AgentTestResult
	Error  *AgentError
}

// Driver orchestrates the sandbox containers for one judge task.
// Prepare starts the per-phase sandboxes; Close kills whatever was
// started, whether or not the phases succeeded.
type Driver interface {
	Prepare(ctx context.Context, task *JudgeTask) error
	// Compile runs the compile phase. On success the compilation result
	// is returned; on an agent-signaled failure the verdict (typically
	// CompilationError) is returned with a nil result. Transport
	// failures are returned as errors.
	Compile(ctx context.Context, task *JudgeTask) (*AgentCompilation, Verdict, error)
	// RunTests streams the task's tests to the agent in order, invoking
	// onStart before sending each test and onResult with the agent's
	// reply. A transport failure aborts the remaining tests.
	RunTests(ctx context.Context, task *JudgeTask,
		onStart func(testID string),
		onResult func(test *TaskTest, resp AgentResponse)) error
	Close()
}

// DriverFactory builds a fresh driver per judge task; each executor
// slot owns at most one live driver at a time.
type DriverFactory func() (Driver, error)
