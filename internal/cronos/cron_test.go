package cronos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronFieldCounts(t *testing.T) {
	_, err := ParseCron("* * * *", "")
	assert.Error(t, err, "four fields rejected")

	_, err = ParseCron("*/5 * * * *", "")
	assert.NoError(t, err, "five fields accepted")

	_, err = ParseCron("30 */5 * * * *", "")
	assert.NoError(t, err, "six fields with seconds accepted")

	_, err = ParseCron("* * * * * * *", "")
	assert.Error(t, err, "seven fields rejected")
}

func TestParseCronBadTimezone(t *testing.T) {
	_, err := ParseCron("0 * * * *", "Mars/Olympus")
	assert.Error(t, err)
}

func TestFiveFieldTreatedAsZeroSeconds(t *testing.T) {
	sched, err := ParseCron("15 3 * * *", "")
	require.NoError(t, err)
	from := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	next := sched.Next(from)
	assert.Equal(t, time.Date(2026, 8, 26, 3, 15, 0, 0, time.UTC), next)
}

func TestNextIsMonotone(t *testing.T) {
	sched, err := ParseCron("*/10 * * * *", "")
	require.NoError(t, err)
	tick := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		next := sched.Next(tick)
		require.True(t, next.After(tick), "next firing must advance")
		tick = next
	}
}

func TestTimezoneEvaluation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	sched, err := ParseCron("0 9 * * *", "America/New_York")
	require.NoError(t, err)
	from := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	next := sched.Next(from)
	assert.Equal(t, 9, next.In(loc).Hour())
}
