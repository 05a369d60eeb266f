// Package scheduler implements spec.md §4.8's persisted job scheduler: a
// Schedule tagged union, pure next-run computation, a tick-loop engine with
// startup missed-job recovery, and a delivery router that dispatches fired
// jobs to the right channel without ever blocking the tick on a stalled
// consumer. Grounded on internal/cron/schedule.go's Schedule/Next shape,
// generalized from its three kinds (at/every/cron) to the spec's five
// (Once/Interval/Daily/Weekly/Cron).
package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind tags a Schedule's variant.
type Kind string

const (
	KindOnce     Kind = "once"
	KindInterval Kind = "interval"
	KindDaily    Kind = "daily"
	KindWeekly   Kind = "weekly"
	KindCron     Kind = "cron"
)

// Schedule is the tagged union persisted (JSON-encoded) in models.Job.Schedule.
// Only the fields relevant to Kind are populated.
type Schedule struct {
	Kind      Kind         `json:"kind"`
	At        time.Time    `json:"at,omitempty"`         // Once
	EverySecs int          `json:"every_secs,omitempty"` // Interval
	Hour      int          `json:"hour,omitempty"`       // Daily, Weekly
	Minute    int          `json:"minute,omitempty"`     // Daily, Weekly
	Weekday   time.Weekday `json:"weekday,omitempty"`    // Weekly (time.Weekday Sun=0..Sat=6; spec counts Mon=0, normalized in NextRun)
	CronExpr  string       `json:"cron_expr,omitempty"`  // Cron
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Encode serializes a Schedule for storage in models.Job.Schedule.
func Encode(s Schedule) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("scheduler: encode schedule: %w", err)
	}
	return string(b), nil
}

// Decode parses a models.Job.Schedule column back into a Schedule.
func Decode(raw string) (Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Schedule{}, fmt.Errorf("scheduler: decode schedule: %w", err)
	}
	return s, nil
}

// NextRun computes the next fire time after now, given the schedule has not
// yet fired. Returns ok=false only on a malformed schedule (e.g. an
// unparseable cron expression); Once always returns (at, true) here —
// callers are responsible for recognizing a Once job has already fired
// (run_count > 0) and not calling NextRun again for it.
func NextRun(s Schedule, now time.Time) (time.Time, bool) {
	switch s.Kind {
	case KindOnce:
		return s.At, true
	case KindInterval:
		if s.EverySecs <= 0 {
			return time.Time{}, false
		}
		return now.Add(time.Duration(s.EverySecs) * time.Second), true
	case KindDaily:
		next := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, true
	case KindWeekly:
		// spec counts Mon=0..Sun=6; time.Weekday counts Sun=0..Sat=6.
		target := time.Weekday((int(s.Weekday) + 1) % 7)
		next := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
		for next.Weekday() != target || !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, true
	case KindCron:
		schedule, err := cronParser.Parse(s.CronExpr)
		if err != nil {
			return time.Time{}, false
		}
		return schedule.Next(now.UTC()), true
	default:
		return time.Time{}, false
	}
}
