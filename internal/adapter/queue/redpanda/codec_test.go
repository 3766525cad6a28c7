package redpanda

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/opencontest/judge/internal/domain"
)

func TestJudgeJobRoundTrip(t *testing.T) {
	key := domain.SubmissionKey{ContestID: "spring-2026", ProblemID: "a", SubmissionID: 42}
	b, err := EncodeJudgeJob(key)
	require.NoError(t, err)

	got, err := DecodeJudgeJob(b)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestJudgeJobIsPositionalArray(t *testing.T) {
	b, err := EncodeJudgeJob(domain.SubmissionKey{ContestID: "c", ProblemID: "p", SubmissionID: 7})
	require.NoError(t, err)

	// Other publishers may produce the same triple without Go struct
	// metadata, so the body has to stay a plain three-element array.
	var arr []any
	require.NoError(t, msgpack.Unmarshal(b, &arr))
	require.Len(t, arr, 3)
	assert.Equal(t, "c", arr[0])
	assert.Equal(t, "p", arr[1])
}

func TestDecodeJudgeJobForeignProducer(t *testing.T) {
	b, err := msgpack.Marshal([]any{"winter", "b", int64(9)})
	require.NoError(t, err)

	got, err := DecodeJudgeJob(b)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionKey{ContestID: "winter", ProblemID: "b", SubmissionID: 9}, got)
}

func TestDecodeJudgeJobMalformed(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"garbage", []byte{0xc1, 0xff, 0x00}},
		{"empty", nil},
		{"wrong shape", mustMarshal(t, map[string]any{"contest_id": "c"})},
		{"empty ids", mustMarshal(t, []any{"", "", int64(1)})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeJudgeJob(tc.body)
			assert.ErrorIs(t, err, domain.ErrMalformedMessage)
		})
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := msgpack.Marshal(v)
	require.NoError(t, err)
	return b
}
