package irrigation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// monday is 2026-01-05, a Monday.
var monday = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func at(day time.Time, hour, minute, second int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, second, 0, day.Location())
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type write struct {
	channel int
	on      bool
}

type recordingOutput struct {
	writes []write
	state  map[int]bool
	err    error
}

func newRecordingOutput() *recordingOutput {
	return &recordingOutput{state: make(map[int]bool)}
}

func (o *recordingOutput) SetChannel(channel int, on bool) error {
	o.writes = append(o.writes, write{channel: channel, on: on})
	if o.err != nil {
		return o.err
	}
	o.state[channel] = on
	return nil
}

type memDocs struct {
	docs     map[string][]byte
	writeErr error
	readErr  error
}

func newMemDocs() *memDocs {
	return &memDocs{docs: make(map[string][]byte)}
}

func (m *memDocs) ReadDocument(_ context.Context, key string) ([]byte, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	data, ok := m.docs[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (m *memDocs) WriteDocument(_ context.Context, key string, data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.docs[key] = append([]byte(nil), data...)
	return nil
}

// harness drives a controller with a fake monotonic clock and a wall clock
// that advance together.
type harness struct {
	t     *testing.T
	c     *Controller
	clock *fakeClock
	out   *recordingOutput
	docs  *memDocs
	wall  time.Time
}

func newHarness(t *testing.T, limits Limits) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		clock: &fakeClock{now: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		out:   newRecordingOutput(),
		docs:  newMemDocs(),
	}
	c, err := New(limits, h.out, h.docs,
		WithClock(h.clock),
		WithLocation(time.UTC),
		WithLogger(zerolog.Nop()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.c = c
	h.out.writes = nil
	return h
}

// shortenSafety lowers the safety timeout below what Validate accepts, so
// the monitor can be reached without a stuck run.
func (h *harness) shortenSafety(d time.Duration) {
	h.c.limits.SafetyTimeout = d
}

// tickAt moves both clocks to wall and ticks.
func (h *harness) tickAt(wall time.Time) {
	if !h.wall.IsZero() {
		h.clock.now = h.clock.now.Add(wall.Sub(h.wall))
	}
	h.wall = wall
	h.c.Tick(wall)
}

// advance moves both clocks forward by d and ticks.
func (h *harness) advance(d time.Duration) {
	h.clock.now = h.clock.now.Add(d)
	if !h.wall.IsZero() {
		h.wall = h.wall.Add(d)
	}
	h.c.Tick(h.wall)
}

func (h *harness) events(typ EventType) []Event {
	var out []Event
	for _, e := range h.c.DrainEvents() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
