// Package scheduler drives the controller's tick on a fixed cadence.
package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Ticker is the device the driver advances.
type Ticker interface {
	Tick(now time.Time)
}

// TickObserver is notified after every tick.
type TickObserver interface {
	ObserveTick()
}

// Driver runs Ticker.Tick every interval on a gocron scheduler.
type Driver struct {
	scheduler *gocron.Scheduler
	target    Ticker
	observer  TickObserver
	interval  time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// NewDriver creates a driver evaluating ticks in loc. observer may be nil.
func NewDriver(target Ticker, interval time.Duration, loc *time.Location, observer TickObserver, logger zerolog.Logger) *Driver {
	if loc == nil {
		loc = time.Local
	}
	s := gocron.NewScheduler(loc)
	s.SingletonModeAll()
	return &Driver{
		scheduler: s,
		target:    target,
		observer:  observer,
		interval:  interval,
		now:       time.Now,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins ticking in the background. The first tick runs immediately.
func (d *Driver) Start() error {
	if d.interval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", d.interval)
	}
	if _, err := d.scheduler.Every(d.interval).Do(d.RunOnce); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	d.logger.Info().Dur("interval", d.interval).Msg("starting tick driver")
	d.scheduler.StartAsync()
	return nil
}

// RunOnce performs a single tick. It is used by the debug binary as well as
// the scheduled job.
func (d *Driver) RunOnce() {
	d.target.Tick(d.now())
	if d.observer != nil {
		d.observer.ObserveTick()
	}
}

// IsRunning reports whether the background scheduler is active.
func (d *Driver) IsRunning() bool {
	return d.scheduler.IsRunning()
}

// Stop gracefully shuts down the scheduler.
func (d *Driver) Stop() {
	d.logger.Info().Msg("stopping tick driver")
	d.scheduler.Stop()
}
