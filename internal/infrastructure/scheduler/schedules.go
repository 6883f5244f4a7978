package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULES
// ══════════════════════════════════════════════════════════════════════════════

// CronSchedule adapts a standard 5-field cron expression to the Schedule
// interface. Parsing is delegated to robfig/cron.
type CronSchedule struct {
	raw   string
	sched cron.Schedule
}

// ParseCron parses a standard cron expression ("*/15 * * * *").
func ParseCron(spec string) (*CronSchedule, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return &CronSchedule{raw: spec, sched: sched}, nil
}

// MustParseCron parses a cron expression and panics on error.
// For hard-coded specs only.
func MustParseCron(spec string) *CronSchedule {
	s, err := ParseCron(spec)
	if err != nil {
		panic(err)
	}
	return s
}

// Next returns the next time the job should run after t.
func (s *CronSchedule) Next(t time.Time) time.Time {
	return s.sched.Next(t)
}

// String returns the raw cron expression.
func (s *CronSchedule) String() string {
	return s.raw
}

// IntervalSchedule schedules a job at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval.String())
}
