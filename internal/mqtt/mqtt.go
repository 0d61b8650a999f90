// Package mqtt bridges the controller to an MQTT broker: command topics start
// and stop channels, and state topics mirror the controller for Home
// Assistant.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prite36/multichannel-irrigation/internal/irrigation"
)

// MessageHandler receives a message delivered on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// Transport is the broker connection the bridge talks through.
type Transport interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, handler MessageHandler) error
	IsConnected() bool
	Close() error
}

// Topics derives every topic from the base topic.
type Topics struct {
	Base string
}

func (t Topics) Command() string { return t.Base + "/command" }
func (t Topics) ChannelCommand(ch int) string { return fmt.Sprintf("%s/channel/%d/command", t.Base, ch) }
func (t Topics) ChannelCommandFilter() string { return t.Base + "/channel/+/command" }
func (t Topics) ChannelState(ch int) string { return fmt.Sprintf("%s/channel/%d/state", t.Base, ch) }
func (t Topics) State() string { return t.Base + "/state" }
func (t Topics) Status() string { return t.Base + "/status" }
func (t Topics) Schedules() string { return t.Base + "/schedules" }
func (t Topics) DurationSet() string { return t.Base + "/duration/set" }
func (t Topics) Duration() string { return t.Base + "/duration" }
func (t Topics) Availability() string { return t.Base + "/availability" }

// CommandKind classifies an inbound command.
type CommandKind int

const (
	CommandStart CommandKind = iota + 1
	CommandStop
	CommandSetDuration
)

// Command is a parsed inbound message. Channel 0 on a stop means every
// channel; on a start it means channel 1, the firmware's single valve.
type Command struct {
	Kind    CommandKind
	Channel int
	Minutes int
}

var ErrUnknownTopic = errors.New("mqtt: topic not handled")

// ParseCommand decodes a message received on one of the command topics.
func (t Topics) ParseCommand(topic string, payload []byte) (Command, error) {
	text := strings.ToUpper(strings.TrimSpace(string(payload)))

	switch {
	case topic == t.Command():
		return onOff(text, 0)
	case topic == t.DurationSet():
		minutes, err := strconv.Atoi(text)
		if err != nil {
			return Command{}, fmt.Errorf("mqtt: invalid duration %q", text)
		}
		return Command{Kind: CommandSetDuration, Minutes: minutes}, nil
	case strings.HasPrefix(topic, t.Base+"/channel/") && strings.HasSuffix(topic, "/command"):
		middle := strings.TrimSuffix(strings.TrimPrefix(topic, t.Base+"/channel/"), "/command")
		ch, err := strconv.Atoi(middle)
		if err != nil || ch < 1 {
			return Command{}, fmt.Errorf("mqtt: invalid channel in topic %s", topic)
		}
		return onOff(text, ch)
	}
	return Command{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}

func onOff(text string, channel int) (Command, error) {
	switch text {
	case "ON":
		return Command{Kind: CommandStart, Channel: channel}, nil
	case "OFF":
		return Command{Kind: CommandStop, Channel: channel}, nil
	}
	return Command{}, fmt.Errorf("mqtt: expected ON or OFF, got %q", text)
}

// OnOff renders a boolean the way Home Assistant switches expect.
func OnOff(on bool) []byte {
	if on {
		return []byte("ON")
	}
	return []byte("OFF")
}

// StatusPayload is the retained JSON document on the status topic.
type StatusPayload struct {
	Irrigating     bool             `json:"irrigating"`
	TimeValid      bool             `json:"time_valid"`
	TimeRemaining  int              `json:"time_remaining"`
	Channels       []ChannelPayload `json:"channels"`
	LastIrrigation string           `json:"last_irrigation,omitempty"`
	NextScheduled  string           `json:"next_scheduled,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
}

// ChannelPayload is one channel inside StatusPayload.
type ChannelPayload struct {
	Channel       int    `json:"channel"`
	Active        bool   `json:"active"`
	Source        string `json:"source,omitempty"`
	TimeRemaining int    `json:"time_remaining,omitempty"`
}

// FormatStatusPayload renders a status snapshot. Durations are in seconds.
func FormatStatusPayload(s irrigation.Status) ([]byte, error) {
	p := StatusPayload{
		Irrigating:    s.Irrigating,
		TimeValid:     s.TimeValid,
		TimeRemaining: int(s.TimeRemaining / time.Second),
		LastError:     s.LastError,
	}
	for _, ch := range s.Channels {
		p.Channels = append(p.Channels, ChannelPayload{
			Channel:       ch.Channel,
			Active:        ch.Active,
			Source:        string(ch.Source),
			TimeRemaining: int(ch.Remaining / time.Second),
		})
	}
	if !s.LastIrrigation.IsZero() {
		p.LastIrrigation = s.LastIrrigation.Format(time.RFC3339)
	}
	if s.HasNext {
		p.NextScheduled = s.NextScheduled.Format(time.RFC3339)
	}
	return json.Marshal(p)
}

type schedulePayload struct {
	Index    int `json:"index"`
	Channel  int `json:"channel"`
	Hour     int `json:"hour"`
	Minute   int `json:"minute"`
	Duration int `json:"duration"`
	Weekdays int `json:"weekdays"`
}

// FormatSchedulesPayload lists the enabled schedules with their slot index.
func FormatSchedulesPayload(schedules []irrigation.Schedule) ([]byte, error) {
	doc := struct {
		Schedules []schedulePayload `json:"schedules"`
	}{Schedules: []schedulePayload{}}
	for i, s := range schedules {
		if !s.Enabled {
			continue
		}
		doc.Schedules = append(doc.Schedules, schedulePayload{
			Index:    i,
			Channel:  s.Channel,
			Hour:     s.Hour,
			Minute:   s.Minute,
			Duration: s.DurationMinutes,
			Weekdays: int(s.Weekdays),
		})
	}
	return json.Marshal(doc)
}
