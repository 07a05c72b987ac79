package core

import (
	"fmt"
	"strings"
	"time"
)

// Cadence is how often a subscriber receives a digest.
type Cadence int

const (
	CadenceDaily Cadence = iota + 1
	CadenceWeekly
)

func (c Cadence) String() string {
	switch c {
	case CadenceDaily:
		return "daily"
	case CadenceWeekly:
		return "weekly"
	}
	return fmt.Sprintf("Cadence(%d)", int(c))
}

// ParseCadence converts "daily" or "weekly" into a Cadence.
func ParseCadence(name string) (Cadence, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "daily", "day":
		return CadenceDaily, nil
	case "weekly", "week":
		return CadenceWeekly, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCadence, name)
}

// Schedule fixes where cadence periods begin.
type Schedule struct {
	Hour     int          // hour of day a period starts, 0-23
	Weekday  time.Weekday // first day of a weekly period
	Location *time.Location
}

// DefaultSchedule starts daily periods at 14:00 UTC and weekly periods on Monday.
func DefaultSchedule() Schedule {
	return Schedule{Hour: 14, Weekday: time.Monday, Location: time.UTC}
}

func (s Schedule) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// PeriodStart returns the start of the cadence period that contains t.
func (s Schedule) PeriodStart(c Cadence, t time.Time) time.Time {
	loc := s.location()
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, 0, 0, 0, loc)
	if start.After(local) {
		start = start.AddDate(0, 0, -1)
	}
	if c == CadenceWeekly {
		back := (int(start.Weekday()) - int(s.Weekday) + 7) % 7
		start = start.AddDate(0, 0, -back)
	}
	return start
}

// PeriodLength is the nominal length of a cadence period.
func (c Cadence) PeriodLength() time.Duration {
	if c == CadenceWeekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// NextPeriodStart returns the first period boundary strictly after t.
func (s Schedule) NextPeriodStart(c Cadence, t time.Time) time.Time {
	start := s.PeriodStart(c, t)
	if c == CadenceWeekly {
		return start.AddDate(0, 0, 7)
	}
	return start.AddDate(0, 0, 1)
}

// Due reports whether the subscription should receive a digest at now.
//
// A subscription that has never been sent is due. Otherwise it is due once now
// falls in a later period than LastSentAt. A period missed entirely (scheduler
// down across a boundary) is therefore sent on the next tick, and the send after
// that waits for the following boundary.
func (sub *Subscription) Due(now time.Time, s Schedule) bool {
	if len(sub.Categories) == 0 {
		return false
	}
	if sub.LastSentAt.IsZero() {
		return true
	}
	return s.PeriodStart(sub.Cadence, now).After(s.PeriodStart(sub.Cadence, sub.LastSentAt))
}
