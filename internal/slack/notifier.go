package slack

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prite36/multichannel-irrigation/internal/irrigation"
)

const notifyQueueSize = 32

type notification struct {
	title  string
	text   string
	alert  bool
	fields map[string]string
}

// Notifier posts controller events that need attention to Slack. Posting
// happens on its own goroutine so a slow API never delays valve control.
type Notifier struct {
	client *Client
	logger zerolog.Logger
	queue  chan notification
}

func NewNotifier(client *Client, logger zerolog.Logger) *Notifier {
	return &Notifier{
		client: client,
		logger: logger.With().Str("component", "slack-notifier").Logger(),
		queue:  make(chan notification, notifyQueueSize),
	}
}

// HandleEvent queues a message for e when it is worth notifying about. When
// the queue is full the message is dropped.
func (n *Notifier) HandleEvent(e irrigation.Event) {
	if n.client == nil {
		return
	}
	msg, ok := describe(e)
	if !ok {
		return
	}
	select {
	case n.queue <- msg:
	default:
		n.logger.Warn().Str("event", string(e.Type)).Msg("notification queue full, dropping message")
	}
}

// Run posts queued messages until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			if msg.alert {
				n.client.SendRichMessage(NewAlertMessage(msg.title, msg.text, msg.fields))
			} else {
				n.client.SendRichMessage(NewInfoMessage(msg.title, msg.text))
			}
		}
	}
}

func describe(e irrigation.Event) (notification, bool) {
	when := "unknown time"
	if !e.At.IsZero() {
		when = e.At.Format("Mon 02 Jan 15:04")
	}
	switch e.Type {
	case irrigation.EventSafetyTimeout:
		return notification{
			title: "Safety timeout",
			text:  fmt.Sprintf("Channel %d was open for %s and has been forced off.", e.Channel, e.Elapsed.Round(time.Minute)),
			alert: true,
			fields: map[string]string{
				"Channel": fmt.Sprint(e.Channel),
				"Source":  string(e.Source),
				"Planned": e.Planned.String(),
				"At":      when,
			},
		}, true
	case irrigation.EventFault:
		return notification{
			title: "Valve output fault",
			text:  fmt.Sprintf("Channel %d: %s", e.Channel, e.Message),
			alert: true,
			fields: map[string]string{
				"Channel": fmt.Sprint(e.Channel),
				"At":      when,
			},
		}, true
	case irrigation.EventSkipped:
		return notification{
			title: "Scheduled run skipped",
			text:  fmt.Sprintf("Schedule #%d for channel %d was dropped at %s because the channel was already running.", e.Slot, e.Channel, when),
		}, true
	case irrigation.EventStarted:
		if e.Source != irrigation.SourceSchedule {
			return notification{}, false
		}
		return notification{
			title: "Scheduled run started",
			text:  fmt.Sprintf("Channel %d is watering for %s (schedule #%d).", e.Channel, e.Planned, e.Slot),
		}, true
	case irrigation.EventStopped:
		if e.Reason != irrigation.ReasonCompleted {
			return notification{}, false
		}
		return notification{
			title: "Run completed",
			text:  fmt.Sprintf("Channel %d finished after %s.", e.Channel, e.Elapsed.Round(time.Second)),
		}, true
	}
	return notification{}, false
}
