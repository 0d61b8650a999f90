package service

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prite36/multichannel-irrigation/internal/irrigation"
)

// minValidYear is the first year a wall clock reading is trusted. Boards
// without a battery-backed clock start in 1970 until NTP catches up.
const minValidYear = 2020

// ValidWallTime reports whether t looks like a synced wall clock.
func ValidWallTime(t time.Time) bool {
	return !t.IsZero() && t.Year() >= minValidYear
}

// ScheduleListener is told about the schedule table after every mutation.
type ScheduleListener interface {
	SchedulesChanged([]irrigation.Schedule)
}

// Device serializes access to the controller and fans its events out to the
// registered sinks. Sinks run after the lock is released, so they may call
// back into the Device. Notifications are queued under the lock and
// delivered by one goroutine at a time, so sinks see them in the order the
// controller produced them.
type Device struct {
	mu          sync.Mutex
	ctrl        *irrigation.Controller
	sinks       []irrigation.EventSink
	listeners   []ScheduleListener
	pending     []func()
	dispatching bool
	logger      zerolog.Logger
}

func NewDevice(ctrl *irrigation.Controller, logger zerolog.Logger) *Device {
	return &Device{
		ctrl:   ctrl,
		logger: logger.With().Str("component", "device").Logger(),
	}
}

// AddSink registers an event sink.
func (d *Device) AddSink(s irrigation.EventSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// AddScheduleListener registers a schedule listener.
func (d *Device) AddScheduleListener(l ScheduleListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// do runs fn under the lock, then dispatches the events it produced.
func (d *Device) do(fn func(c *irrigation.Controller) error) error {
	d.mu.Lock()
	err := fn(d.ctrl)
	d.enqueueEvents(d.ctrl.DrainEvents())
	d.mu.Unlock()

	d.dispatch()
	return err
}

// mutate runs a schedule mutation and notifies listeners when the table
// changed. A persistence failure still leaves the change applied in memory.
func (d *Device) mutate(fn func(c *irrigation.Controller) error) error {
	d.mu.Lock()
	err := fn(d.ctrl)
	d.enqueueEvents(d.ctrl.DrainEvents())
	if err == nil || errors.Is(err, irrigation.ErrPersistence) {
		schedules := d.ctrl.Schedules()
		listeners := d.listeners
		d.pending = append(d.pending, func() {
			for _, l := range listeners {
				l.SchedulesChanged(schedules)
			}
		})
	}
	d.mu.Unlock()

	d.dispatch()
	return err
}

// enqueueEvents must be called with mu held.
func (d *Device) enqueueEvents(events []irrigation.Event) {
	if len(events) == 0 {
		return
	}
	sinks := d.sinks
	d.pending = append(d.pending, func() {
		for _, e := range events {
			for _, s := range sinks {
				s.HandleEvent(e)
			}
		}
	})
}

// dispatch drains the notification queue unless another goroutine already
// is. A sink that calls back into the Device only enqueues, and its
// notifications are delivered once the current one returns.
func (d *Device) dispatch() {
	d.mu.Lock()
	if d.dispatching {
		d.mu.Unlock()
		return
	}
	d.dispatching = true
	for len(d.pending) > 0 {
		next := d.pending[0]
		d.pending[0] = nil
		d.pending = d.pending[1:]
		d.mu.Unlock()
		next()
		d.mu.Lock()
	}
	d.dispatching = false
	d.mu.Unlock()
}

// Tick runs one controller pass at now. A wall clock that has not synced
// yet suspends schedules but keeps run expiry and the safety timeout going.
func (d *Device) Tick(now time.Time) {
	_ = d.do(func(c *irrigation.Controller) error {
		if !ValidWallTime(now) {
			if c.HasValidTime() {
				d.logger.Warn().Time("now", now).Msg("wall clock lost, schedules suspended")
			}
			c.SetTime(time.Time{})
			c.Tick(time.Time{})
			return nil
		}
		c.Tick(now)
		return nil
	})
}

// SetTime records the wall clock without running a pass.
func (d *Device) SetTime(now time.Time) {
	_ = d.do(func(c *irrigation.Controller) error {
		if !ValidWallTime(now) {
			now = time.Time{}
		}
		c.SetTime(now)
		return nil
	})
}

func (d *Device) Start(channel, durationMinutes int, source irrigation.Source) error {
	return d.do(func(c *irrigation.Controller) error {
		return c.Start(channel, durationMinutes, source)
	})
}

func (d *Device) Stop(target irrigation.StopTarget) error {
	return d.do(func(c *irrigation.Controller) error {
		return c.Stop(target)
	})
}

func (d *Device) AddSchedule(channel, hour, minute, durationMinutes int, weekdays irrigation.WeekdayMask) (int, error) {
	var index int
	err := d.mutate(func(c *irrigation.Controller) error {
		var err error
		index, err = c.AddSchedule(channel, hour, minute, durationMinutes, weekdays)
		return err
	})
	return index, err
}

func (d *Device) UpdateSchedule(index, channel, hour, minute, durationMinutes int, weekdays irrigation.WeekdayMask) error {
	return d.mutate(func(c *irrigation.Controller) error {
		return c.UpdateSchedule(index, channel, hour, minute, durationMinutes, weekdays)
	})
}

func (d *Device) RemoveSchedule(index int) error {
	return d.mutate(func(c *irrigation.Controller) error {
		return c.RemoveSchedule(index)
	})
}

func (d *Device) SetScheduleEnabled(index int, enabled bool) error {
	return d.mutate(func(c *irrigation.Controller) error {
		return c.SetScheduleEnabled(index, enabled)
	})
}

// LoadSchedules reloads the table from storage. On failure the device runs
// manual-only until a schedule is written.
func (d *Device) LoadSchedules() error {
	return d.mutate(func(c *irrigation.Controller) error {
		return c.LoadSchedules()
	})
}

func (d *Device) SaveSchedules() error {
	return d.do(func(c *irrigation.Controller) error {
		return c.SaveSchedules()
	})
}

func (d *Device) ClearError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ctrl.ClearError()
}

func (d *Device) Schedule(index int) (irrigation.Schedule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctrl.Schedule(index)
}

func (d *Device) Schedules() []irrigation.Schedule {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctrl.Schedules()
}

func (d *Device) Status() irrigation.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctrl.Status()
}

func (d *Device) IsActive(channel int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctrl.IsActive(channel)
}

func (d *Device) IsIrrigating() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctrl.IsIrrigating()
}

func (d *Device) Remaining(channel int) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctrl.Remaining(channel)
}

func (d *Device) TimeRemaining() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctrl.TimeRemaining()
}

func (d *Device) NextScheduledTime() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctrl.NextScheduledTime()
}

func (d *Device) HasValidTime() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctrl.HasValidTime()
}

func (d *Device) LastError() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctrl.LastError()
}

// Limits never change after construction.
func (d *Device) Limits() irrigation.Limits {
	return d.ctrl.Limits()
}
