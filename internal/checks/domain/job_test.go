package checks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("tests")
	require.NoError(t, err)
	assert.Equal(t, KindTests, kind)

	_, err = ParseKind("lint")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestJob_CloneAndDuration(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	job := &Job{ID: "a", StartedAt: &start, EndedAt: &end}

	c := job.Clone()
	*c.StartedAt = start.Add(time.Hour)
	assert.Equal(t, start, *job.StartedAt)
	assert.Equal(t, 90*time.Second, job.Duration())
	assert.Zero(t, (&Job{}).Duration())
	assert.Nil(t, (*Job)(nil).Clone())

	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusRunning.Terminal())
}
