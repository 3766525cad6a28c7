package docker

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/opencontest/judge/internal/adapter/sandbox/agentwire"
	"github.com/opencontest/judge/internal/domain"
)

// fakeStream is the in-memory stdio of one container: what the driver
// writes lands in stdin, what the agent would say is pre-loaded into
// stdout.
type fakeStream struct {
	stdin  bytes.Buffer
	stdout *bytes.Reader
}

func newTestDriver(compileOut, testOut []byte) (*Driver, map[string]*fakeStream) {
	streams := map[string]*fakeStream{
		"compile": {stdout: bytes.NewReader(compileOut)},
		"test":    {stdout: bytes.NewReader(testOut)},
	}
	d := &Driver{compileID: "compile", testID: "test"}
	d.attachFn = func(_ context.Context, id string) (io.Writer, io.Reader, error) {
		s := streams[id]
		return &s.stdin, s.stdout, nil
	}
	return d, streams
}

func agentFrame(t *testing.T, m map[string]any) []byte {
	t.Helper()
	payload, err := msgpack.Marshal(m)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, agentwire.WriteFrame(&buf, payload))
	return buf.Bytes()
}

func sentFrames(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for buf.Len() > 0 {
		payload, err := agentwire.ReadFrame(buf)
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, msgpack.Unmarshal(payload, &m))
		frames = append(frames, m)
	}
	return frames
}

func frameType(m map[string]any) string {
	s, _ := m["type"].(string)
	return s
}

func driverTask() *domain.JudgeTask {
	img := "judge-gcc:latest"
	return &domain.JudgeTask{
		Key:              domain.SubmissionKey{ContestID: "c", ProblemID: "p", SubmissionID: 1},
		Code:             []byte("int main(){}"),
		CompileImageName: &img,
		TestImageName:    "judge-run:latest",
		TimeLimit:        2,
		MemoryLimit:      256,
		Tests: []domain.TaskTest{
			{ID: "t1", Input: []byte("1\n"), Output: []byte("2\n")},
		},
	}
}

func TestCompileSuccess(t *testing.T) {
	d, streams := newTestDriver(agentFrame(t, map[string]any{
		"type":   "Compilation",
		"binary": []byte{0x7f, 0x45},
		"time":   1.25,
	}), nil)

	res, verdict, err := d.Compile(context.Background(), driverTask())
	require.NoError(t, err)
	assert.Equal(t, domain.Accepted, verdict)
	require.NotNil(t, res)
	assert.Equal(t, []byte{0x7f, 0x45}, res.Binary)

	frames := sentFrames(t, &streams["compile"].stdin)
	require.Len(t, frames, 1)
	assert.Equal(t, "Compilation", frameType(frames[0]))
}

func TestCompileAgentClosedBeforeFrame(t *testing.T) {
	// The agent exits without answering. Only the compile request went
	// out and the test container saw no traffic at all.
	d, streams := newTestDriver(nil, nil)

	res, verdict, err := d.Compile(context.Background(), driverTask())
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, domain.CompilationError, verdict)

	frames := sentFrames(t, &streams["compile"].stdin)
	require.Len(t, frames, 1)
	assert.Equal(t, "Compilation", frameType(frames[0]))
	assert.Zero(t, streams["test"].stdin.Len())
}

func TestCompileAgentErrorFrame(t *testing.T) {
	d, _ := newTestDriver(agentFrame(t, map[string]any{
		"type": "Error",
		"kind": "CompilationError",
	}), nil)

	res, verdict, err := d.Compile(context.Background(), driverTask())
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, domain.CompilationError, verdict)
}

func TestCompileProtocolViolationIsInternal(t *testing.T) {
	var junk bytes.Buffer
	require.NoError(t, agentwire.WriteFrame(&junk, []byte{0xc1, 0xc1}))

	tests := []struct {
		name   string
		stdout []byte
	}{
		{"undecodable frame", junk.Bytes()},
		{"unknown tag", agentFrame(t, map[string]any{"type": "Banana"})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, _ := newTestDriver(tc.stdout, nil)
			res, verdict, err := d.Compile(context.Background(), driverTask())
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, domain.InternalError, verdict)
		})
	}
}

func TestRunTestsStreamsInOrder(t *testing.T) {
	d, streams := newTestDriver(nil, agentFrame(t, map[string]any{
		"type":         "Test",
		"output":       []byte("2\n"),
		"time":         0.01,
		"memory_bytes": int64(1024),
	}))

	var started []string
	var results []domain.AgentResponse
	err := d.RunTests(context.Background(), driverTask(),
		func(id string) { started = append(started, id) },
		func(_ *domain.TaskTest, resp domain.AgentResponse) { results = append(results, resp) })
	require.NoError(t, err)

	assert.Equal(t, []string{"t1"}, started)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Result)
	assert.Equal(t, []byte("2\n"), results[0].Result.Output)

	frames := sentFrames(t, &streams["test"].stdin)
	require.Len(t, frames, 2)
	assert.Equal(t, "Preparation", frameType(frames[0]))
	assert.Equal(t, "Test", frameType(frames[1]))
	assert.EqualValues(t, 1, frames[0]["output_limit"])
}

func TestRunTestsAgentClosedMidStream(t *testing.T) {
	d, _ := newTestDriver(nil, nil)

	var results int
	err := d.RunTests(context.Background(), driverTask(),
		func(string) {},
		func(*domain.TaskTest, domain.AgentResponse) { results++ })
	require.Error(t, err)
	assert.Zero(t, results)
}
