// Package docker is the reference sandbox driver: one container per
// judge phase, talking the agent protocol over the container's attached
// stdio. Containers run with no network, all capabilities dropped and
// hard memory/swap limits; whatever Prepare started is killed on Close
// regardless of how the phases went.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"

	"github.com/opencontest/judge/internal/adapter/sandbox/agentwire"
	"github.com/opencontest/judge/internal/domain"
)

const (
	// Compile sandbox sizing. The driver imposes no compile time cap;
	// the agent enforces the 60 s limit itself.
	compileMemoryBytes = 1 << 30
	compileTimeLimitS  = 60
	compileMemLimitMiB = 1024

	// The agent truncates test output beyond this many MiB.
	testOutputLimitMiB = 1

	// Accommodates multi-threaded runtimes (JVM, Go) inside the test
	// sandbox while still stopping fork bombs.
	testPidsLimit = 20
)

// Factory produces drivers sharing one Docker daemon client. The daemon
// is shared across executor slots and is assumed thread-safe.
type Factory struct {
	cli *client.Client
}

// NewFactory connects to the Docker daemon from the environment.
func NewFactory() (*Factory, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("op=docker.factory: %w", err)
	}
	return &Factory{cli: cli}, nil
}

// Driver returns a DriverFactory for the executor.
func (f *Factory) Driver() domain.DriverFactory {
	return func() (domain.Driver, error) {
		return &Driver{cli: f.cli}, nil
	}
}

// Driver orchestrates the compile and test containers for one task.
type Driver struct {
	cli *client.Client

	compileID string
	testID    string

	compileIO *types.HijackedResponse
	testIO    *types.HijackedResponse

	// attachFn overrides the daemon attach; tests feed an in-memory
	// stream pair per container instead of a hijacked connection.
	attachFn func(ctx context.Context, id string) (io.Writer, io.Reader, error)
}

// Prepare creates and starts one sandbox per phase. The compile sandbox
// gets the fixed 1 GiB limit; the test sandbox gets the task's memory
// limit and a PID cap.
func (d *Driver) Prepare(ctx context.Context, task *domain.JudgeTask) error {
	if task.CompileImageName != nil {
		id, err := d.startContainer(ctx, *task.CompileImageName, compileMemoryBytes, 0)
		if err != nil {
			return fmt.Errorf("op=docker.prepare compile: %w", err)
		}
		d.compileID = id
	}
	memBytes := int64(task.MemoryLimit) << 20
	id, err := d.startContainer(ctx, task.TestImageName, memBytes, testPidsLimit)
	if err != nil {
		return fmt.Errorf("op=docker.prepare test: %w", err)
	}
	d.testID = id
	return nil
}

func (d *Driver) startContainer(ctx context.Context, image string, memBytes int64, pidsLimit int64) (string, error) {
	res := container.Resources{
		Memory:     memBytes,
		MemorySwap: memBytes,
	}
	if pidsLimit > 0 {
		res.PidsLimit = &pidsLimit
	}
	created, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           image,
			OpenStdin:       true,
			NetworkDisabled: true,
		},
		&container.HostConfig{
			AutoRemove: true,
			CapDrop:    strslice.StrSlice{"ALL"},
			Resources:  res,
		},
		nil, nil, "")
	if err != nil {
		return "", err
	}
	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", err
	}
	return created.ID, nil
}

// Compile runs the compile phase. An agent that closes its stream
// cleanly or reports an error before producing a Compilation frame
// yields CompilationError; an undecodable frame is a protocol
// violation and surfaces as an error, like any transport problem, for
// the controller to treat as an internal failure.
func (d *Driver) Compile(ctx context.Context, task *domain.JudgeTask) (*domain.AgentCompilation, domain.Verdict, error) {
	stdin, stdout, err := d.attach(ctx, d.compileID, &d.compileIO)
	if err != nil {
		return nil, domain.InternalError, fmt.Errorf("op=docker.compile attach: %w", err)
	}
	if err := agentwire.SendCompilation(stdin, task.Code, compileTimeLimitS, compileMemLimitMiB); err != nil {
		return nil, domain.InternalError, fmt.Errorf("op=docker.compile send: %w", err)
	}
	res, agentErr, err := agentwire.ReadCompilation(stdout)
	switch {
	case errors.Is(err, domain.ErrAgentClosed):
		// The agent hung up without a Compilation frame; the compile
		// did not succeed.
		return nil, domain.CompilationError, nil
	case err != nil:
		return nil, domain.InternalError, fmt.Errorf("op=docker.compile recv: %w", err)
	case agentErr != nil:
		slog.Debug("agent reported compile failure", slog.String("kind", agentErr.Kind))
		return nil, domain.CompilationError, nil
	}
	return res, domain.Accepted, nil
}

// RunTests arms the test container and streams the tests in the order
// given, invoking the callbacks per test. A transport failure aborts the
// remaining tests and is returned for the controller to aggregate as an
// internal failure.
func (d *Driver) RunTests(ctx context.Context, task *domain.JudgeTask,
	onStart func(testID string),
	onResult func(test *domain.TaskTest, resp domain.AgentResponse)) error {
	stdin, stdout, err := d.attach(ctx, d.testID, &d.testIO)
	if err != nil {
		return fmt.Errorf("op=docker.tests attach: %w", err)
	}
	if err := agentwire.SendPreparation(stdin, task.Code, task.TimeLimit, task.MemoryLimit, testOutputLimitMiB); err != nil {
		return fmt.Errorf("op=docker.tests prepare: %w", err)
	}
	for i := range task.Tests {
		test := &task.Tests[i]
		onStart(test.ID)
		if err := agentwire.SendTest(stdin, test.Input); err != nil {
			return fmt.Errorf("op=docker.tests send test=%s: %w", test.ID, err)
		}
		resp, err := agentwire.ReadTestResult(stdout)
		if err != nil {
			return fmt.Errorf("op=docker.tests recv test=%s: %w", test.ID, err)
		}
		onResult(test, resp)
	}
	return nil
}

// attach hijacks the container stdio once and caches it; stdout is
// demuxed from the daemon's frame format before agent frames are read.
func (d *Driver) attach(ctx context.Context, id string, slot **types.HijackedResponse) (io.Writer, io.Reader, error) {
	if id == "" {
		return nil, nil, fmt.Errorf("container not prepared")
	}
	if d.attachFn != nil {
		return d.attachFn(ctx, id)
	}
	if *slot == nil {
		resp, err := d.cli.ContainerAttach(ctx, id, container.AttachOptions{
			Stream: true,
			Stdin:  true,
			Stdout: true,
		})
		if err != nil {
			return nil, nil, err
		}
		*slot = &resp
	}
	return (*slot).Conn, newDemuxReader((*slot).Reader), nil
}

// Close kills every container Prepare started, whether or not the
// phases succeeded, and drops the attached streams.
func (d *Driver) Close() {
	ctx := context.Background()
	for _, hj := range []*types.HijackedResponse{d.compileIO, d.testIO} {
		if hj != nil {
			hj.Close()
		}
	}
	d.compileIO, d.testIO = nil, nil
	for _, id := range []string{d.compileID, d.testID} {
		if id == "" {
			continue
		}
		if err := d.cli.ContainerKill(ctx, id, "KILL"); err != nil {
			slog.Debug("container kill", slog.String("id", id), slog.Any("error", err))
		}
	}
	d.compileID, d.testID = "", ""
}
