package irrigation

import "fmt"

// checkSafety force-stops any channel that has been open for the safety
// timeout or longer. It reads only the monotonic clock, never wall time.
func (c *Controller) checkSafety() {
	now := c.clock.Now()
	for ch := 1; ch <= c.bank.count(); ch++ {
		r := c.bank.run(ch)
		if !r.active {
			continue
		}
		elapsed := now.Sub(r.startedAt)
		if elapsed < c.limits.SafetyTimeout {
			continue
		}
		msg := fmt.Sprintf("safety timeout triggered on channel %d", ch)
		c.lastError = msg
		c.logger.Warn().
			Int("channel", ch).
			Dur("elapsed", elapsed).
			Dur("limit", c.limits.SafetyTimeout).
			Msg("safety timeout, forcing channel off")
		c.emit(Event{
			Type:    EventSafetyTimeout,
			Channel: ch,
			Source:  r.source,
			Slot:    -1,
			Planned: r.planned,
			Elapsed: elapsed,
			Message: msg,
		})
		c.stop(ch, ReasonSafetyTimeout)
	}
}
