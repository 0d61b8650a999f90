package irrigation

import (
	"errors"
	"time"
)

// evaluateSchedules starts every enabled schedule that matches the current
// minute. Slots are evaluated lowest index first; when two slots target the
// same channel the first one wins and the later one is dropped for that
// occurrence rather than queued.
func (c *Controller) evaluateSchedules() {
	now := c.wall
	for i, s := range c.store.slots {
		if !s.Enabled || !s.Matches(now) {
			continue
		}
		r := c.bank.run(s.Channel)
		if sameMinute(r.lastStart, now) {
			continue
		}
		if r.active {
			if sameMinute(c.skippedAt[i], now) {
				continue
			}
			c.skippedAt[i] = now
			c.logger.Info().Int("slot", i).Int("channel", s.Channel).Msg("schedule skipped, channel already running")
			c.emit(Event{
				Type:    EventSkipped,
				Channel: s.Channel,
				Source:  SourceSchedule,
				Slot:    i,
				Planned: s.Duration(),
				Message: "channel already running",
			})
			continue
		}
		c.logger.Info().Int("slot", i).Int("channel", s.Channel).Msg("schedule triggered")
		c.start(s.Channel, s.DurationMinutes, SourceSchedule, i)
	}
}

// sameMinute reports whether a and b fall in the same wall-clock minute.
// A zero a never matches.
func sameMinute(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}

// NextScheduledTime returns the earliest upcoming occurrence across enabled
// schedules. It reports false when the time is unknown or nothing is due
// within the next seven days.
func (c *Controller) NextScheduledTime() (time.Time, bool) {
	if !c.wallValid {
		return time.Time{}, false
	}
	var next time.Time
	found := false
	for _, s := range c.store.slots {
		if !s.Enabled {
			continue
		}
		at, ok := s.Next(c.wall)
		if !ok {
			continue
		}
		if !found || at.Before(next) {
			next = at
			found = true
		}
	}
	return next, found
}

// AddSchedule stores a new schedule in the first free slot.
func (c *Controller) AddSchedule(channel, hour, minute, durationMinutes int, weekdays WeekdayMask) (int, error) {
	index, err := c.store.Add(channel, hour, minute, durationMinutes, weekdays)
	c.notePersistence(err)
	return index, err
}

// UpdateSchedule rewrites the schedule in slot index.
func (c *Controller) UpdateSchedule(index, channel, hour, minute, durationMinutes int, weekdays WeekdayMask) error {
	err := c.store.Update(index, channel, hour, minute, durationMinutes, weekdays)
	c.notePersistence(err)
	return err
}

// RemoveSchedule disables the schedule in slot index.
func (c *Controller) RemoveSchedule(index int) error {
	err := c.store.Remove(index)
	c.notePersistence(err)
	return err
}

// SetScheduleEnabled toggles the schedule in slot index.
func (c *Controller) SetScheduleEnabled(index int, enabled bool) error {
	err := c.store.SetEnabled(index, enabled)
	c.notePersistence(err)
	return err
}

// Schedule returns the schedule in slot index.
func (c *Controller) Schedule(index int) (Schedule, error) {
	return c.store.Get(index)
}

// Schedules returns every slot in index order.
func (c *Controller) Schedules() []Schedule {
	return c.store.List()
}

// LoadSchedules reloads the slots from storage. On failure every slot is left
// disabled and the controller runs in manual-only mode.
func (c *Controller) LoadSchedules() error {
	return c.store.Load()
}

// SaveSchedules writes the slots to storage.
func (c *Controller) SaveSchedules() error {
	err := c.store.Save()
	c.notePersistence(err)
	return err
}

func (c *Controller) notePersistence(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, ErrPersistence) {
		c.lastError = err.Error()
	}
}
