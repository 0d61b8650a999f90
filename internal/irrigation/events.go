package irrigation

import "time"

// EventType classifies controller events.
type EventType string

const (
	EventStarted       EventType = "started"
	EventStopped       EventType = "stopped"
	EventSkipped       EventType = "skipped"
	EventSafetyTimeout EventType = "safety_timeout"
	EventFault         EventType = "fault"
)

// Event describes a state change of the controller. Events are buffered in
// the controller and handed out by DrainEvents.
type Event struct {
	Type    EventType
	Channel int
	Source  Source
	Reason  StopReason
	// Slot is the schedule slot involved, or -1.
	Slot int
	// Planned is the run length of a start, or of the run that stopped.
	Planned time.Duration
	// Elapsed is how long a stopped run lasted.
	Elapsed time.Duration
	// Restart is set when a start replaced a run already in progress.
	Restart bool
	// At is the wall-clock time of the event; zero when time is unknown.
	At      time.Time
	Message string
}

func (c *Controller) emit(e Event) {
	if e.At.IsZero() && c.wallValid {
		e.At = c.wall
	}
	c.events = append(c.events, e)
}

// DrainEvents returns the events produced since the last call.
func (c *Controller) DrainEvents() []Event {
	if len(c.events) == 0 {
		return nil
	}
	out := c.events
	c.events = nil
	return out
}

// EventSink consumes controller events outside the core, e.g. history,
// metrics or notifications. The controller never calls sinks itself; the
// owner drains events and hands them over once the operation has returned.
type EventSink interface {
	HandleEvent(Event)
}
