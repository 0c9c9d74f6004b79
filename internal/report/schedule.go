package report

import (
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultWindow is the report window used when no schedule is configured
const DefaultWindow = 12 * time.Hour

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is the cron schedule scheduled reports follow
type Schedule struct {
	Expr  string
	sched cron.Schedule
}

// ParseSchedule parses a five-field cron expression. An empty expression
// yields a nil Schedule, which falls back to DefaultWindow.
func ParseSchedule(expr string) (*Schedule, error) {
	if expr == "" {
		return nil, nil
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return &Schedule{Expr: expr, sched: sched}, nil
}

// Next returns the first scheduled time after t
func (s *Schedule) Next(t time.Time) time.Time {
	if s == nil {
		return t.Add(DefaultWindow)
	}
	return s.sched.Next(t)
}

// Previous returns the latest scheduled time at or before now, searching
// back at most 31 days.
func (s *Schedule) Previous(now time.Time) time.Time {
	if s == nil {
		return now.Add(-DefaultWindow)
	}
	var prev time.Time
	for t := s.sched.Next(now.Add(-31 * 24 * time.Hour)); !t.After(now); t = s.sched.Next(t) {
		prev = t
	}
	if prev.IsZero() {
		return now.Add(-DefaultWindow)
	}
	return prev
}

// Interval returns the gap between the next two scheduled times
func (s *Schedule) Interval(now time.Time) time.Duration {
	if s == nil {
		return DefaultWindow
	}
	first := s.sched.Next(now)
	return s.sched.Next(first).Sub(first)
}

// Due reports whether a scheduled time has passed since the last report.
// Without a last report the schedule is due once a scheduled time has
// passed within the last day.
func (s *Schedule) Due(last time.Time, now time.Time) bool {
	if last.IsZero() {
		last = now.Add(-24 * time.Hour)
	}
	return !s.Next(last).After(now)
}
