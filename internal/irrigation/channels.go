package irrigation

import (
	"fmt"
	"time"
)

// channelRun is the live state of one channel. startedAt, planned and source
// are only meaningful while active.
type channelRun struct {
	active    bool
	startedAt time.Time
	planned   time.Duration
	source    Source

	// lastStart is the wall-clock instant of the most recent start, used to
	// keep a schedule from firing twice within one minute.
	lastStart time.Time
}

// channelBank owns the run state of every channel and is the only code that
// writes to the Output.
type channelBank struct {
	runs []channelRun
	out  Output
}

func newChannelBank(channels int, out Output) *channelBank {
	return &channelBank{
		runs: make([]channelRun, channels),
		out:  out,
	}
}

func (b *channelBank) count() int { return len(b.runs) }

func (b *channelBank) run(channel int) *channelRun {
	return &b.runs[channel-1]
}

// activate marks the channel running and energizes its line. Activating a
// running channel restarts its timer.
func (b *channelBank) activate(channel int, planned time.Duration, source Source, startedAt, wall time.Time) error {
	r := b.run(channel)
	r.active = true
	r.startedAt = startedAt
	r.planned = planned
	r.source = source
	r.lastStart = wall
	return b.drive(channel, true)
}

// deactivate clears the run state and de-energizes the line. It returns the
// run that ended and false when the channel was already idle, in which case
// nothing is written.
func (b *channelBank) deactivate(channel int) (channelRun, bool, error) {
	r := b.run(channel)
	if !r.active {
		return channelRun{}, false, nil
	}
	ended := *r
	r.active = false
	r.startedAt = time.Time{}
	r.planned = 0
	r.source = ""
	return ended, true, b.drive(channel, false)
}

// drive is the single choke point between run state and hardware.
func (b *channelBank) drive(channel int, on bool) error {
	if b.out == nil {
		return nil
	}
	if err := b.out.SetChannel(channel, on); err != nil {
		state := "off"
		if on {
			state = "on"
		}
		return fmt.Errorf("drive channel %d %s: %w", channel, state, err)
	}
	return nil
}

func (b *channelBank) elapsed(channel int, now time.Time) time.Duration {
	r := b.run(channel)
	if !r.active {
		return 0
	}
	return now.Sub(r.startedAt)
}

func (b *channelBank) remaining(channel int, now time.Time) time.Duration {
	r := b.run(channel)
	if !r.active {
		return 0
	}
	left := r.planned - now.Sub(r.startedAt)
	if left < 0 {
		return 0
	}
	return left
}
