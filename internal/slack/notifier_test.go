package slack

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/prite36/multichannel-irrigation/internal/irrigation"
)

func TestDescribe(t *testing.T) {
	at := time.Date(2026, 1, 5, 11, 0, 0, 0, time.UTC)
	testCases := []struct {
		name      string
		event     irrigation.Event
		wantOK    bool
		wantAlert bool
		contains  string
	}{
		{"safety timeout", irrigation.Event{Type: irrigation.EventSafetyTimeout, Channel: 3, Elapsed: 5 * time.Hour, At: at}, true, true, "Channel 3 was open for 5h0m0s"},
		{"fault", irrigation.Event{Type: irrigation.EventFault, Channel: 1, Message: "line busy"}, true, true, "line busy"},
		{"skip", irrigation.Event{Type: irrigation.EventSkipped, Channel: 2, Slot: 4, At: at}, true, false, "Schedule #4 for channel 2"},
		{"scheduled start", irrigation.Event{Type: irrigation.EventStarted, Channel: 1, Source: irrigation.SourceSchedule, Planned: 30 * time.Minute}, true, false, "30m0s"},
		{"manual start is quiet", irrigation.Event{Type: irrigation.EventStarted, Channel: 1, Source: irrigation.SourceManual}, false, false, ""},
		{"completion", irrigation.Event{Type: irrigation.EventStopped, Channel: 1, Reason: irrigation.ReasonCompleted, Elapsed: 30 * time.Minute}, true, false, "finished after 30m0s"},
		{"manual stop is quiet", irrigation.Event{Type: irrigation.EventStopped, Channel: 1, Reason: irrigation.ReasonStopped}, false, false, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := describe(tc.event)
			if ok != tc.wantOK {
				t.Fatalf("Expected ok=%v, got %v", tc.wantOK, ok)
			}
			if !ok {
				return
			}
			if msg.alert != tc.wantAlert {
				t.Errorf("Expected alert=%v, got %v", tc.wantAlert, msg.alert)
			}
			if !strings.Contains(msg.text, tc.contains) {
				t.Errorf("Expected %q in %q", tc.contains, msg.text)
			}
		})
	}
}

func TestNotifierPostsSafetyTimeout(t *testing.T) {
	api, srv := newFakeSlackAPI(t)
	client := NewClient("xoxb-test", "C123", zerolog.Nop(), slack.OptionAPIURL(srv.URL+"/"))
	n := NewNotifier(client, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.HandleEvent(irrigation.Event{Type: irrigation.EventStopped, Channel: 1, Reason: irrigation.ReasonStopped})
	n.HandleEvent(irrigation.Event{Type: irrigation.EventSafetyTimeout, Channel: 2, Elapsed: 5 * time.Hour})

	select {
	case text := <-api.received:
		if !strings.Contains(text, "Safety timeout") {
			t.Errorf("unexpected message: %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification posted")
	}
}

func TestNotifierWithoutClientIsInert(t *testing.T) {
	n := NewNotifier(nil, zerolog.Nop())
	n.HandleEvent(irrigation.Event{Type: irrigation.EventSafetyTimeout, Channel: 1})
	if len(n.queue) != 0 {
		t.Error("disabled notifier queued a message")
	}
}
