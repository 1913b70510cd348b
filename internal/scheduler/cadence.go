package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Cadence is when a job fires: either a fixed interval aligned to its own
// boundary ("4h" fires at 00:00, 04:00, ...) or a standard cron expression.
type Cadence struct {
	expr     string
	interval time.Duration
	sched    cron.Schedule
}

// ParseCadence accepts interval codes ("15m", "1h", "4h", "1d", "1w") or a
// five-field cron expression ("30 */4 * * *").
func ParseCadence(expr string) (Cadence, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Cadence{}, fmt.Errorf("empty cadence")
	}
	if d, ok := parseInterval(expr); ok {
		return Cadence{expr: expr, interval: d}, nil
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return Cadence{}, fmt.Errorf("cadence %q: %w", expr, err)
	}
	return Cadence{expr: expr, sched: sched}, nil
}

// Next returns the first firing time strictly after the given instant.
// Interval cadences align to epoch boundaries of the interval, so a "4h" job
// started at 13:07 first fires at 16:00.
func (c Cadence) Next(after time.Time) time.Time {
	if c.interval > 0 {
		return after.UTC().Truncate(c.interval).Add(c.interval)
	}
	if c.sched != nil {
		return c.sched.Next(after.UTC())
	}
	return time.Time{}
}

func (c Cadence) IsZero() bool  { return c.interval == 0 && c.sched == nil }
func (c Cadence) String() string { return c.expr }

func parseInterval(s string) (time.Duration, bool) {
	s = strings.ToLower(s)
	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
