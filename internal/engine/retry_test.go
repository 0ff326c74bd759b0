package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffFor_FollowsFixedSchedule(t *testing.T) {
	assert.Equal(t, 1*time.Minute, backoffFor(1))
	assert.Equal(t, 5*time.Minute, backoffFor(2))
	assert.Equal(t, 15*time.Minute, backoffFor(3))
	assert.Equal(t, 60*time.Minute, backoffFor(4))
}

func TestBackoffFor_ClampsBeyondScheduleLength(t *testing.T) {
	assert.Equal(t, 60*time.Minute, backoffFor(5))
	assert.Equal(t, 60*time.Minute, backoffFor(100))
}

func TestBackoffFor_ZeroAndNegativeTreatedAsFirstAttempt(t *testing.T) {
	assert.Equal(t, 1*time.Minute, backoffFor(0))
	assert.Equal(t, 1*time.Minute, backoffFor(-3))
}

func TestNextUTCMidnight(t *testing.T) {
	now := time.Date(2026, 7, 29, 14, 30, 0, 0, time.UTC)
	got := nextUTCMidnight(now)
	assert.Equal(t, time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC), got)
}

func TestNextUTCMidnight_ConvertsNonUTCInput(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	now := time.Date(2026, 7, 29, 23, 0, 0, 0, loc) // 2026-07-30 04:00 UTC
	got := nextUTCMidnight(now)
	assert.Equal(t, time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), got)
}
