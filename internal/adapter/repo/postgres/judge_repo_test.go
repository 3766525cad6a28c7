package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencontest/judge/internal/domain"
)

func TestResumableStatuses(t *testing.T) {
	assert.True(t, resumable(domain.Waiting))
	assert.True(t, resumable(domain.Running))
	assert.True(t, resumable(domain.InternalError))

	assert.False(t, resumable(domain.Accepted))
	assert.False(t, resumable(domain.WrongAnswer))
	assert.False(t, resumable(domain.CompilationError))
	assert.False(t, resumable(domain.TimeLimitExceeded))
}

func TestPerTestWritesRefreshSubmission(t *testing.T) {
	// The stuck-submission scan keys off submissions.updated; a run
	// with live per-test progress must keep deferring it.
	for name, q := range map[string]string{
		"mark running":  markTestRunningSQL,
		"write outcome": writeTestOutcomeSQL,
	} {
		assert.Contains(t, q, "UPDATE judge_results", name)
		assert.Contains(t, q, "UPDATE submissions SET updated=now()", name)
	}
}
