package irrigation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is one weekly recurring irrigation rule. Its identity is the slot
// index it occupies in the ScheduleStore.
type Schedule struct {
	Enabled         bool        `json:"enabled"`
	Channel         int         `json:"channel"`
	Hour            int         `json:"hour"`
	Minute          int         `json:"minute"`
	DurationMinutes int         `json:"duration"`
	Weekdays        WeekdayMask `json:"weekdays"`
}

// Matches reports whether t falls on a selected weekday at exactly the
// schedule's hour and minute. t is interpreted in its own location.
func (s Schedule) Matches(t time.Time) bool {
	return s.Weekdays.Has(t.Weekday()) && t.Hour() == s.Hour && t.Minute() == s.Minute
}

// Next returns the first occurrence strictly after now, searching at most
// seven days ahead. A schedule with no weekday selected never occurs.
func (s Schedule) Next(now time.Time) (time.Time, bool) {
	if s.Weekdays&EveryDay == 0 {
		return time.Time{}, false
	}
	y, m, d := now.Date()
	candidate := time.Date(y, m, d, s.Hour, s.Minute, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	for i := 0; i < 7; i++ {
		if s.Weekdays.Has(candidate.Weekday()) {
			return candidate, true
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}

// Duration returns the planned run time.
func (s Schedule) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// CronExpr renders the trigger as a five-field cron expression, or "" when
// no weekday is selected.
func (s Schedule) CronExpr() string {
	mask := s.Weekdays & EveryDay
	if mask == 0 {
		return ""
	}
	dow := "*"
	if mask != EveryDay {
		var days []string
		for d := time.Sunday; d <= time.Saturday; d++ {
			if mask.Has(d) {
				days = append(days, strconv.Itoa(int(d)))
			}
		}
		dow = strings.Join(days, ",")
	}
	return fmt.Sprintf("%d %d * * %s", s.Minute, s.Hour, dow)
}

func (s Schedule) String() string {
	state := "off"
	if s.Enabled {
		state = "on"
	}
	return fmt.Sprintf("ch%d %02d:%02d %dmin %s [%s]", s.Channel, s.Hour, s.Minute, s.DurationMinutes, s.Weekdays, state)
}

func (l Limits) validateSchedule(channel, hour, minute, durationMinutes int) error {
	switch {
	case !l.validChannel(channel):
		return fmt.Errorf("%w: channel %d not in 1..%d", ErrInvalidParameter, channel, l.Channels)
	case hour < 0 || hour > 23:
		return fmt.Errorf("%w: hour %d", ErrInvalidParameter, hour)
	case minute < 0 || minute > 59:
		return fmt.Errorf("%w: minute %d", ErrInvalidParameter, minute)
	case durationMinutes < l.MinDuration || durationMinutes > l.MaxDuration:
		return fmt.Errorf("%w: duration %d not in %d..%d", ErrInvalidParameter, durationMinutes, l.MinDuration, l.MaxDuration)
	}
	return nil
}

func (l Limits) defaultSchedule() Schedule {
	return Schedule{
		Enabled:         false,
		Channel:         1,
		DurationMinutes: l.DefaultDuration,
		Weekdays:        EveryDay,
	}
}
