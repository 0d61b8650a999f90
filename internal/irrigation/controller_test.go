package irrigation

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewRejectsBadLimits(t *testing.T) {
	limits := DefaultLimits()
	limits.Channels = 0
	if _, err := New(limits, nil, nil); err == nil {
		t.Fatal("Expected error for zero channels")
	}
}

func TestLimitsValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Limits)
		wantErr bool
	}{
		{"defaults", func(*Limits) {}, false},
		{"no schedules", func(l *Limits) { l.MaxSchedules = 0 }, true},
		{"max below min", func(l *Limits) { l.MaxDuration = 0 }, true},
		{"default above max", func(l *Limits) { l.DefaultDuration = 241 }, true},
		{"safety at max duration", func(l *Limits) { l.SafetyTimeout = 240 * time.Minute }, true},
		{"safety below max duration", func(l *Limits) { l.SafetyTimeout = time.Hour }, true},
		{"safety just above max duration", func(l *Limits) { l.SafetyTimeout = 240*time.Minute + time.Second }, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			limits := DefaultLimits()
			tc.mutate(&limits)
			if err := limits.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewDrivesEveryChannelOff(t *testing.T) {
	out := newRecordingOutput()
	if _, err := New(DefaultLimits(), out, nil, WithLogger(zerolog.Nop())); err != nil {
		t.Fatal(err)
	}
	if len(out.writes) != 4 {
		t.Fatalf("Expected 4 writes, got %d", len(out.writes))
	}
	for i, w := range out.writes {
		if w.channel != i+1 || w.on {
			t.Errorf("write %d: expected channel %d off, got %+v", i, i+1, w)
		}
	}
}

func TestStartActivatesWithSingleWrite(t *testing.T) {
	h := newHarness(t, DefaultLimits())

	if err := h.c.Start(2, 30, SourceManual); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !h.c.IsActive(2) || !h.c.IsIrrigating() {
		t.Fatal("channel 2 should be active")
	}
	if len(h.out.writes) != 1 || h.out.writes[0] != (write{channel: 2, on: true}) {
		t.Errorf("Expected exactly one on-write for channel 2, got %+v", h.out.writes)
	}
	if got := h.c.Remaining(2); got != 30*time.Minute {
		t.Errorf("Expected 30m remaining, got %v", got)
	}
	if h.c.IsActive(1) {
		t.Error("channel 1 should be idle")
	}
}

func TestStartClampsDuration(t *testing.T) {
	testCases := []struct {
		name      string
		requested int
		want      time.Duration
	}{
		{"below minimum", 0, 1 * time.Minute},
		{"negative", -5, 1 * time.Minute},
		{"above maximum", 1000, 240 * time.Minute},
		{"in range", 45, 45 * time.Minute},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, DefaultLimits())
			if err := h.c.Start(1, tc.requested, SourceManual); err != nil {
				t.Fatalf("clamped start must not fail: %v", err)
			}
			if got := h.c.Remaining(1); got != tc.want {
				t.Errorf("Expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestStartRejectsUnknownChannel(t *testing.T) {
	h := newHarness(t, DefaultLimits())
	for _, ch := range []int{0, 5, -1} {
		if err := h.c.Start(ch, 10, SourceManual); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("channel %d: expected ErrInvalidParameter, got %v", ch, err)
		}
	}
	if len(h.out.writes) != 0 {
		t.Errorf("rejected start wrote to output: %+v", h.out.writes)
	}
}

func TestStartOnActiveChannelResetsDuration(t *testing.T) {
	h := newHarness(t, DefaultLimits())
	h.c.Start(1, 30, SourceManual)
	h.advance(20 * time.Minute)

	h.c.Start(1, 15, SourceRemote)
	if got := h.c.Remaining(1); got != 15*time.Minute {
		t.Errorf("Expected restart to 15m, got %v", got)
	}
	starts := h.events(EventStarted)
	if len(starts) != 2 || !starts[1].Restart || starts[1].Source != SourceRemote {
		t.Errorf("Expected second start flagged as restart from remote, got %+v", starts)
	}
	h.advance(15 * time.Minute)
	if h.c.IsActive(1) {
		t.Error("restarted run should end after the new duration")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, DefaultLimits())
	h.tickAt(at(monday, 10, 0, 0))
	h.c.Start(1, 30, SourceManual)

	for i := 0; i < 2; i++ {
		if err := h.c.Stop(StopChannel(1)); err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
		if h.c.IsActive(1) {
			t.Fatalf("stop %d: channel still active", i)
		}
		if h.out.state[1] {
			t.Fatalf("stop %d: output still high", i)
		}
		if h.c.Remaining(1) != 0 {
			t.Fatalf("stop %d: remaining not cleared", i)
		}
	}
	if stops := h.events(EventStopped); len(stops) != 1 {
		t.Errorf("Expected one stop event, got %d", len(stops))
	}
	if got := h.c.Status().LastIrrigation; !got.Equal(at(monday, 10, 0, 0)) {
		t.Errorf("Expected last irrigation recorded, got %v", got)
	}
}

func TestStopAllAndSingle(t *testing.T) {
	h := newHarness(t, DefaultLimits())
	h.c.Start(1, 30, SourceManual)
	h.c.Start(3, 30, SourceSchedule)

	if err := h.c.Stop(StopChannel(3)); err != nil {
		t.Fatal(err)
	}
	if !h.c.IsActive(1) || h.c.IsActive(3) {
		t.Fatal("only channel 3 should have stopped")
	}
	if err := h.c.Stop(StopChannel(9)); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter, got %v", err)
	}
	h.c.Start(2, 30, SourceManual)
	if err := h.c.Stop(StopAll()); err != nil {
		t.Fatal(err)
	}
	if h.c.IsIrrigating() {
		t.Error("StopAll left a channel running")
	}
	for ch := 1; ch <= 4; ch++ {
		if h.out.state[ch] {
			t.Errorf("channel %d output still high", ch)
		}
	}
}

func TestRunExpiresAfterPlannedDuration(t *testing.T) {
	h := newHarness(t, DefaultLimits())
	h.c.Start(1, 30, SourceManual)
	h.c.DrainEvents()

	h.advance(30*time.Minute - time.Second)
	if !h.c.IsActive(1) {
		t.Fatal("channel stopped before its planned duration")
	}
	if got := h.c.Remaining(1); got != time.Second {
		t.Errorf("Expected 1s remaining, got %v", got)
	}

	h.advance(time.Second)
	if h.c.IsActive(1) {
		t.Fatal("channel still active after planned duration and a tick")
	}
	if h.out.state[1] {
		t.Error("output still high after expiry")
	}
	stops := h.events(EventStopped)
	if len(stops) != 1 || stops[0].Reason != ReasonCompleted || stops[0].Source != SourceManual {
		t.Errorf("Expected completed stop for manual run, got %+v", stops)
	}
	if h.c.LastError() != "" {
		t.Errorf("routine completion recorded an error: %q", h.c.LastError())
	}
}

func TestSafetyTimeoutBoundary(t *testing.T) {
	h := newHarness(t, DefaultLimits())
	h.shortenSafety(10 * time.Minute)
	h.c.Start(1, 30, SourceSchedule)
	h.c.DrainEvents()

	h.advance(10*time.Minute - time.Second)
	if !h.c.IsActive(1) {
		t.Fatal("forced stop one tick-unit before the safety timeout")
	}
	if h.c.Status().LastError != "" {
		t.Fatalf("unexpected error before timeout: %q", h.c.Status().LastError)
	}

	h.advance(time.Second)
	if h.c.IsActive(1) {
		t.Fatal("channel not forced off at the safety timeout")
	}
	if h.out.state[1] {
		t.Error("output still high after safety stop")
	}
	status := h.c.Status()
	if !strings.Contains(status.LastError, "safety timeout") {
		t.Errorf("Expected safety error in status, got %q", status.LastError)
	}

	events := h.c.DrainEvents()
	if len(events) != 2 {
		t.Fatalf("Expected safety + stop events, got %+v", events)
	}
	if events[0].Type != EventSafetyTimeout || events[0].Channel != 1 {
		t.Errorf("Expected safety event first, got %+v", events[0])
	}
	if events[1].Type != EventStopped || events[1].Reason != ReasonSafetyTimeout {
		t.Errorf("Expected safety stop, got %+v", events[1])
	}
}

func TestSafetyRunsWithoutWallClock(t *testing.T) {
	h := newHarness(t, DefaultLimits())
	h.shortenSafety(time.Minute)
	if h.c.HasValidTime() {
		t.Fatal("fresh controller should not have a valid time")
	}
	h.c.Start(2, 30, SourceManual)

	h.clock.now = h.clock.now.Add(time.Minute)
	h.c.Tick(time.Time{})
	if h.c.IsActive(2) {
		t.Error("safety monitor must work without wall-clock time")
	}
}

func TestCompletionTakesPrecedenceOverSafety(t *testing.T) {
	h := newHarness(t, DefaultLimits())
	h.shortenSafety(30 * time.Minute)
	h.c.Start(1, 30, SourceManual)
	h.c.DrainEvents()

	h.advance(30 * time.Minute)
	if h.c.IsActive(1) {
		t.Fatal("channel should have stopped")
	}
	if h.c.LastError() != "" {
		t.Errorf("routine completion reported as safety timeout: %q", h.c.LastError())
	}
	if safety := h.events(EventSafetyTimeout); len(safety) != 0 {
		t.Errorf("unexpected safety events: %+v", safety)
	}
}

func TestOutputFaultIsRecorded(t *testing.T) {
	h := newHarness(t, DefaultLimits())
	h.out.err = errors.New("line busy")

	if err := h.c.Start(1, 10, SourceManual); err != nil {
		t.Fatalf("Start should not fail on hardware fault: %v", err)
	}
	if !h.c.IsActive(1) {
		t.Error("state machine should still track the run")
	}
	if !strings.Contains(h.c.LastError(), "line busy") {
		t.Errorf("Expected fault recorded, got %q", h.c.LastError())
	}
	if faults := h.events(EventFault); len(faults) != 1 {
		t.Errorf("Expected one fault event, got %d", len(faults))
	}
	h.c.ClearError()
	if h.c.LastError() != "" {
		t.Error("ClearError did not reset the error")
	}
}

func TestStatusSnapshot(t *testing.T) {
	h := newHarness(t, DefaultLimits())
	h.tickAt(at(monday, 5, 0, 0))
	if _, err := h.c.AddSchedule(2, 6, 0, 20, EveryDay); err != nil {
		t.Fatal(err)
	}
	h.c.Start(1, 30, SourceRemote)
	h.advance(10 * time.Minute)

	s := h.c.Status()
	if !s.Irrigating || !s.TimeValid {
		t.Fatalf("unexpected flags: %+v", s)
	}
	if len(s.Channels) != 4 {
		t.Fatalf("Expected 4 channels, got %d", len(s.Channels))
	}
	ch1 := s.Channels[0]
	if !ch1.Active || ch1.Source != SourceRemote || ch1.Remaining != 20*time.Minute || ch1.Elapsed != 10*time.Minute {
		t.Errorf("unexpected channel 1 status: %+v", ch1)
	}
	if s.Channels[1].Active {
		t.Error("channel 2 should be idle")
	}
	if s.TimeRemaining != 20*time.Minute {
		t.Errorf("Expected 20m remaining, got %v", s.TimeRemaining)
	}
	if !s.HasNext || !s.NextScheduled.Equal(at(monday, 6, 0, 0)) {
		t.Errorf("Expected next run 06:00 today, got %v (%v)", s.NextScheduled, s.HasNext)
	}
	if s.Schedules != 1 {
		t.Errorf("Expected 1 schedule, got %d", s.Schedules)
	}
}

func TestTimeRemainingIsLongestRun(t *testing.T) {
	h := newHarness(t, DefaultLimits())
	if h.c.TimeRemaining() != 0 {
		t.Fatal("idle controller should have nothing remaining")
	}
	h.c.Start(1, 10, SourceManual)
	h.c.Start(2, 40, SourceManual)
	if got := h.c.TimeRemaining(); got != 40*time.Minute {
		t.Errorf("Expected 40m, got %v", got)
	}
}

func TestScheduleWriteFailureSurfacesInStatus(t *testing.T) {
	h := newHarness(t, DefaultLimits())
	h.docs.writeErr = errors.New("disk full")

	index, err := h.c.AddSchedule(1, 6, 0, 30, EveryDay)
	if !errors.Is(err, ErrPersistence) || index != 0 {
		t.Fatalf("Expected persisted-failure with index 0, got %d, %v", index, err)
	}
	if !strings.Contains(h.c.Status().LastError, "disk full") {
		t.Errorf("Expected persistence error in status, got %q", h.c.Status().LastError)
	}
}
