package cronos

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nolan-sh/nolan/internal/common/apperr"
)

// cronParser accepts 5- or 6-field expressions; a missing seconds field
// is treated as "0".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ParseCron validates a cron expression, returning the compiled schedule.
// Evaluation runs in UTC unless tz names a location.
func ParseCron(expr, tz string) (cron.Schedule, error) {
	fields := len(strings.Fields(expr))
	if fields < 5 || fields > 6 {
		return nil, apperr.Invalidf("cron expression %q must have 5 or 6 fields, got %d", expr, fields)
	}
	loc := time.UTC
	if tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, apperr.Invalidf("unknown timezone %q", tz)
		}
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, apperr.Invalidf("invalid cron expression %q: %v", expr, err)
	}
	return tzSchedule{inner: sched, loc: loc}, nil
}

// tzSchedule evaluates the wrapped schedule in a fixed location.
type tzSchedule struct {
	inner cron.Schedule
	loc   *time.Location
}

func (s tzSchedule) Next(t time.Time) time.Time {
	return s.inner.Next(t.In(s.loc))
}
