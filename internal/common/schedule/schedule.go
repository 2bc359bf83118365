// Package schedule parses trigger schedules for periodic jobs.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
)

// Never is returned by Next for schedules that do not tick.
var Never = time.Unix(4604952467, 0).UTC()

// Schedule knows when a job should run next.
type Schedule struct {
	asString string

	cronExpr *cronexpr.Expression // absolute schedules
	interval time.Duration        // relative schedules
	manual   bool
}

// Parse accepts:
//   - "every 24 hours", "every 30 minutes", "every 1 day"
//   - "with 10m interval"
//   - a cron expression such as "0 3 * * *" (UTC)
//   - "manual", which never ticks
func Parse(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	var (
		sched *Schedule
		err   error
	)
	switch {
	case expr == "":
		return nil, errors.New("schedule is empty")
	case expr == "manual":
		sched = &Schedule{manual: true}
	case strings.HasPrefix(expr, "every "):
		sched, err = parseEvery(expr)
	case strings.HasPrefix(expr, "with "):
		sched, err = parseWith(expr)
	default:
		var exp *cronexpr.Expression
		exp, err = cronexpr.Parse(expr)
		if err == nil {
			sched = &Schedule{cronExpr: exp}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	sched.asString = expr
	return sched, nil
}

func parseEvery(expr string) (*Schedule, error) {
	tokens := strings.Fields(expr)
	if len(tokens) != 3 {
		return nil, errors.New(`expecting format "every <n> <minutes|hours|days>"`)
	}
	n, err := strconv.Atoi(tokens[1])
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("bad count %q", tokens[1])
	}
	var unit time.Duration
	switch strings.TrimSuffix(tokens[2], "s") {
	case "minute":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	default:
		return nil, fmt.Errorf("bad unit %q", tokens[2])
	}
	return &Schedule{interval: time.Duration(n) * unit}, nil
}

func parseWith(expr string) (*Schedule, error) {
	tokens := strings.Fields(expr)
	if len(tokens) != 3 || tokens[2] != "interval" {
		return nil, errors.New(`expecting format "with <duration> interval"`)
	}
	interval, err := time.ParseDuration(tokens[1])
	if err != nil {
		return nil, fmt.Errorf("bad duration %q: %w", tokens[1], err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("bad interval %q: must be positive", tokens[1])
	}
	return &Schedule{interval: interval}, nil
}

// Next returns when to run after now. prev is when the previous run
// finished, zero before the first run.
func (s *Schedule) Next(now, prev time.Time) time.Time {
	if s.manual {
		return Never
	}
	if s.cronExpr != nil {
		next := s.cronExpr.Next(now.UTC())
		if next.IsZero() {
			return Never
		}
		return next
	}
	if prev.IsZero() {
		return now.Add(s.interval)
	}
	next := prev.Add(s.interval)
	if next.Before(now) {
		return now
	}
	return next
}

// IsManual is true when the schedule never ticks on its own.
func (s *Schedule) IsManual() bool {
	return s.manual
}

func (s *Schedule) String() string {
	return s.asString
}
