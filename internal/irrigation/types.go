// Package irrigation is the control core of the irrigation controller: the
// schedule store, the time-triggered scheduler and the per-channel run state
// with its safety ceiling.
//
// The package has no knowledge of GPIO, MQTT, HTTP or databases. Hardware is
// reached through Output, persistence through DocumentStore, and time is
// injected through Tick/SetTime plus a monotonic Clock.
package irrigation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Source records what caused a channel to start.
type Source string

const (
	SourceManual   Source = "manual"
	SourceSchedule Source = "schedule"
	SourceRemote   Source = "remote"
)

// StopReason records why a channel stopped.
type StopReason string

const (
	ReasonStopped       StopReason = "stopped"
	ReasonCompleted     StopReason = "completed"
	ReasonSafetyTimeout StopReason = "safety_timeout"
)

// WeekdayMask selects the days a schedule runs on.
// Bit 0 is Sunday through bit 6 Saturday, matching time.Weekday.
type WeekdayMask uint8

// EveryDay has all seven weekday bits set.
const EveryDay WeekdayMask = 0x7F

// Has reports whether d is selected.
func (m WeekdayMask) Has(d time.Weekday) bool {
	return m&(1<<uint(d)) != 0
}

// MaskOf builds a mask from the given days.
func MaskOf(days ...time.Weekday) WeekdayMask {
	var m WeekdayMask
	for _, d := range days {
		m |= 1 << uint(d)
	}
	return m
}

func (m WeekdayMask) String() string {
	if m&EveryDay == EveryDay {
		return "daily"
	}
	if m&EveryDay == 0 {
		return "never"
	}
	var days []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if m.Has(d) {
			days = append(days, d.String()[:3])
		}
	}
	return strings.Join(days, ",")
}

// Limits bounds the controller. Durations are in whole minutes.
type Limits struct {
	Channels        int
	MaxSchedules    int
	MinDuration     int
	MaxDuration     int
	DefaultDuration int
	SafetyTimeout   time.Duration
}

// DefaultLimits mirrors the firmware defaults.
func DefaultLimits() Limits {
	return Limits{
		Channels:        4,
		MaxSchedules:    16,
		MinDuration:     1,
		MaxDuration:     240,
		DefaultDuration: 30,
		SafetyTimeout:   5 * time.Hour,
	}
}

// Validate checks the limits are usable.
func (l Limits) Validate() error {
	switch {
	case l.Channels < 1:
		return fmt.Errorf("channels must be at least 1, got %d", l.Channels)
	case l.MaxSchedules < 1:
		return fmt.Errorf("max schedules must be at least 1, got %d", l.MaxSchedules)
	case l.MinDuration < 1:
		return fmt.Errorf("min duration must be at least 1 minute, got %d", l.MinDuration)
	case l.MaxDuration < l.MinDuration:
		return fmt.Errorf("max duration %d is below min duration %d", l.MaxDuration, l.MinDuration)
	case l.DefaultDuration < l.MinDuration || l.DefaultDuration > l.MaxDuration:
		return fmt.Errorf("default duration %d outside [%d, %d]", l.DefaultDuration, l.MinDuration, l.MaxDuration)
	case l.SafetyTimeout <= time.Duration(l.MaxDuration)*time.Minute:
		return fmt.Errorf("safety timeout %v must exceed max duration %d minutes", l.SafetyTimeout, l.MaxDuration)
	}
	return nil
}

func (l Limits) validChannel(channel int) bool {
	return channel >= 1 && channel <= l.Channels
}

func (l Limits) clampDuration(minutes int) int {
	if minutes < l.MinDuration {
		return l.MinDuration
	}
	if minutes > l.MaxDuration {
		return l.MaxDuration
	}
	return minutes
}

// StopTarget selects which channels a Stop call affects.
type StopTarget struct {
	all     bool
	channel int
}

// StopAll targets every active channel.
func StopAll() StopTarget { return StopTarget{all: true} }

// StopChannel targets exactly one channel.
func StopChannel(channel int) StopTarget { return StopTarget{channel: channel} }

// All reports whether the target is every channel.
func (t StopTarget) All() bool { return t.all }

// Channel returns the targeted channel, or 0 for StopAll.
func (t StopTarget) Channel() int { return t.channel }

func (t StopTarget) String() string {
	if t.all {
		return "all channels"
	}
	return fmt.Sprintf("channel %d", t.channel)
}

// Output drives the physical line of each channel.
type Output interface {
	SetChannel(channel int, on bool) error
}

// DocumentStore reads and writes one named document at a time.
// A write replaces the whole document or fails without partial effect.
type DocumentStore interface {
	ReadDocument(ctx context.Context, key string) ([]byte, error)
	WriteDocument(ctx context.Context, key string, data []byte) error
}

// Clock supplies monotonic instants for elapsed-time measurement.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
