package irrigation

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Controller owns the schedule store and the channel state. It is not safe for
// concurrent use; callers serialize access to it.
type Controller struct {
	limits Limits
	store  *ScheduleStore
	bank   *channelBank
	clock  Clock
	loc    *time.Location
	logger zerolog.Logger

	wall      time.Time
	wallValid bool

	lastIrrigation time.Time
	lastError      string

	// skippedAt holds, per slot, the minute a busy channel was last reported.
	skippedAt []time.Time

	events []Event
}

// Option configures a Controller.
type Option func(*controllerOptions)

type controllerOptions struct {
	clock  Clock
	loc    *time.Location
	logger zerolog.Logger
	key    string
}

// WithClock replaces the monotonic clock used for elapsed time.
func WithClock(c Clock) Option {
	return func(o *controllerOptions) { o.clock = c }
}

// WithLocation sets the zone schedules are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(o *controllerOptions) { o.loc = loc }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *controllerOptions) { o.logger = l }
}

// WithScheduleKey sets the document key schedules are persisted under.
func WithScheduleKey(key string) Option {
	return func(o *controllerOptions) { o.key = key }
}

// New builds a controller with every channel off. Every output line is driven
// low so the hardware matches the idle state after a restart.
func New(limits Limits, out Output, docs DocumentStore, opts ...Option) (*Controller, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limits: %w", err)
	}
	o := controllerOptions{
		clock:  systemClock{},
		loc:    time.Local,
		logger: zerolog.Nop(),
		key:    DefaultScheduleKey,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Controller{
		limits:    limits,
		store:     NewScheduleStore(limits, docs, o.key, o.logger.With().Str("component", "schedules").Logger()),
		bank:      newChannelBank(limits.Channels, out),
		clock:     o.clock,
		loc:       o.loc,
		logger:    o.logger,
		skippedAt: make([]time.Time, limits.MaxSchedules),
	}
	for ch := 1; ch <= limits.Channels; ch++ {
		if err := c.bank.drive(ch, false); err != nil {
			c.fault(ch, err)
		}
	}
	return c, nil
}

// Limits returns the configured limits.
func (c *Controller) Limits() Limits { return c.limits }

// Location returns the zone schedules are evaluated in.
func (c *Controller) Location() *time.Location { return c.loc }

// SetTime records the current wall-clock time. A zero time marks the clock as
// unknown, which suspends schedule evaluation but not manual control.
func (c *Controller) SetTime(t time.Time) {
	if t.IsZero() {
		c.wall = time.Time{}
		c.wallValid = false
		return
	}
	c.wall = t.In(c.loc)
	c.wallValid = true
}

// HasValidTime reports whether a wall-clock time is known.
func (c *Controller) HasValidTime() bool { return c.wallValid }

// CurrentTime returns the last known wall-clock time.
func (c *Controller) CurrentTime() time.Time { return c.wall }

// Tick runs one evaluation pass: finished runs are stopped, overrunning
// channels are force-stopped, then schedules are evaluated. A non-zero now
// also updates the wall clock.
func (c *Controller) Tick(now time.Time) {
	if !now.IsZero() {
		c.SetTime(now)
	}
	c.expireRuns()
	c.checkSafety()
	if c.wallValid {
		c.evaluateSchedules()
	}
}

// Start opens a channel for durationMinutes, clamped into the configured
// range. Starting a running channel restarts it with the new duration.
func (c *Controller) Start(channel, durationMinutes int, source Source) error {
	return c.start(channel, durationMinutes, source, -1)
}

func (c *Controller) start(channel, durationMinutes int, source Source, slot int) error {
	if !c.limits.validChannel(channel) {
		return fmt.Errorf("%w: channel %d not in 1..%d", ErrInvalidParameter, channel, c.limits.Channels)
	}
	minutes := c.limits.clampDuration(durationMinutes)
	if minutes != durationMinutes {
		c.logger.Debug().Int("requested", durationMinutes).Int("minutes", minutes).Msg("duration clamped")
	}
	planned := time.Duration(minutes) * time.Minute
	restart := c.bank.run(channel).active

	var wall time.Time
	if c.wallValid {
		wall = c.wall
	}
	err := c.bank.activate(channel, planned, source, c.clock.Now(), wall)
	c.logger.Info().
		Int("channel", channel).
		Int("minutes", minutes).
		Str("source", string(source)).
		Bool("restart", restart).
		Msg("irrigation started")
	c.emit(Event{
		Type:    EventStarted,
		Channel: channel,
		Source:  source,
		Slot:    slot,
		Planned: planned,
		Restart: restart,
	})
	if err != nil {
		c.fault(channel, err)
	}
	return nil
}

// Stop closes the targeted channels. Stopping an idle channel does nothing.
func (c *Controller) Stop(target StopTarget) error {
	if target.All() {
		for ch := 1; ch <= c.bank.count(); ch++ {
			c.stop(ch, ReasonStopped)
		}
		return nil
	}
	if !c.limits.validChannel(target.Channel()) {
		return fmt.Errorf("%w: channel %d not in 1..%d", ErrInvalidParameter, target.Channel(), c.limits.Channels)
	}
	c.stop(target.Channel(), ReasonStopped)
	return nil
}

func (c *Controller) stop(channel int, reason StopReason) {
	now := c.clock.Now()
	elapsed := c.bank.elapsed(channel, now)
	ended, wasActive, err := c.bank.deactivate(channel)
	if !wasActive {
		return
	}
	if c.wallValid {
		c.lastIrrigation = c.wall
	}
	c.logger.Info().
		Int("channel", channel).
		Str("reason", string(reason)).
		Dur("elapsed", elapsed).
		Msg("irrigation stopped")
	c.emit(Event{
		Type:    EventStopped,
		Channel: channel,
		Source:  ended.source,
		Reason:  reason,
		Slot:    -1,
		Planned: ended.planned,
		Elapsed: elapsed,
	})
	if err != nil {
		c.fault(channel, err)
	}
}

// expireRuns stops every channel whose planned duration has elapsed.
func (c *Controller) expireRuns() {
	now := c.clock.Now()
	for ch := 1; ch <= c.bank.count(); ch++ {
		r := c.bank.run(ch)
		if r.active && now.Sub(r.startedAt) >= r.planned {
			c.stop(ch, ReasonCompleted)
		}
	}
}

func (c *Controller) fault(channel int, err error) {
	c.lastError = err.Error()
	c.logger.Error().Err(err).Int("channel", channel).Msg("output fault")
	c.emit(Event{Type: EventFault, Channel: channel, Slot: -1, Message: err.Error()})
}

// IsActive reports whether a channel is running.
func (c *Controller) IsActive(channel int) bool {
	if !c.limits.validChannel(channel) {
		return false
	}
	return c.bank.run(channel).active
}

// IsIrrigating reports whether any channel is running.
func (c *Controller) IsIrrigating() bool {
	for ch := 1; ch <= c.bank.count(); ch++ {
		if c.bank.run(ch).active {
			return true
		}
	}
	return false
}

// Remaining returns the time left on a channel, zero when idle or elapsed.
func (c *Controller) Remaining(channel int) time.Duration {
	if !c.limits.validChannel(channel) {
		return 0
	}
	return c.bank.remaining(channel, c.clock.Now())
}

// TimeRemaining returns the longest time left across running channels.
func (c *Controller) TimeRemaining() time.Duration {
	now := c.clock.Now()
	var longest time.Duration
	for ch := 1; ch <= c.bank.count(); ch++ {
		if left := c.bank.remaining(ch, now); left > longest {
			longest = left
		}
	}
	return longest
}

// LastError returns the most recent recorded fault or safety condition.
func (c *Controller) LastError() string { return c.lastError }

// ClearError resets the recorded error.
func (c *Controller) ClearError() { c.lastError = "" }

// ChannelStatus is the state of one channel in a Status snapshot.
type ChannelStatus struct {
	Channel   int           `json:"channel"`
	Active    bool          `json:"active"`
	Source    Source        `json:"source,omitempty"`
	Planned   time.Duration `json:"planned"`
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
}

// Status is a point-in-time view derived from the channel state. It is a value
// type and is never mutated independently.
type Status struct {
	Channels       []ChannelStatus `json:"channels"`
	Irrigating     bool            `json:"irrigating"`
	TimeValid      bool            `json:"time_valid"`
	Now            time.Time       `json:"now"`
	TimeRemaining  time.Duration   `json:"time_remaining"`
	LastIrrigation time.Time       `json:"last_irrigation"`
	NextScheduled  time.Time       `json:"next_scheduled"`
	HasNext        bool            `json:"has_next"`
	LastError      string          `json:"last_error,omitempty"`
	Schedules      int             `json:"schedules"`
}

// Status builds a snapshot of the controller.
func (c *Controller) Status() Status {
	now := c.clock.Now()
	s := Status{
		Channels:       make([]ChannelStatus, c.bank.count()),
		TimeValid:      c.wallValid,
		Now:            c.wall,
		LastIrrigation: c.lastIrrigation,
		LastError:      c.lastError,
		Schedules:      c.store.EnabledCount(),
	}
	for ch := 1; ch <= c.bank.count(); ch++ {
		r := c.bank.run(ch)
		cs := ChannelStatus{Channel: ch, Active: r.active}
		if r.active {
			cs.Source = r.source
			cs.Planned = r.planned
			cs.Elapsed = now.Sub(r.startedAt)
			cs.Remaining = c.bank.remaining(ch, now)
			s.Irrigating = true
			if cs.Remaining > s.TimeRemaining {
				s.TimeRemaining = cs.Remaining
			}
		}
		s.Channels[ch-1] = cs
	}
	s.NextScheduled, s.HasNext = c.NextScheduledTime()
	return s
}
