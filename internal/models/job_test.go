package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidJobType(t *testing.T) {
	for _, jt := range KnownJobTypes {
		assert.True(t, IsValidJobType(jt), string(jt))
	}
	assert.False(t, IsValidJobType("mine_bitcoin"))
	assert.False(t, IsValidJobType(""))
}

func TestJobStatusIsTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
}
