package mqtt

import (
	"errors"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/prite36/multichannel-irrigation/internal/irrigation"
)

// Controller is the part of the device the bridge drives and mirrors.
type Controller interface {
	Start(channel, durationMinutes int, source irrigation.Source) error
	Stop(target irrigation.StopTarget) error
	Status() irrigation.Status
	Schedules() []irrigation.Schedule
	Limits() irrigation.Limits
}

// Bridge routes command topics to the controller and publishes its state.
type Bridge struct {
	transport Transport
	topics    Topics
	ctrl      Controller
	logger    zerolog.Logger

	mu       sync.Mutex
	duration int
}

func NewBridge(transport Transport, baseTopic string, ctrl Controller, logger zerolog.Logger) *Bridge {
	return &Bridge{
		transport: transport,
		topics:    Topics{Base: baseTopic},
		ctrl:      ctrl,
		logger:    logger.With().Str("component", "mqtt-bridge").Logger(),
		duration:  ctrl.Limits().DefaultDuration,
	}
}

// Topics returns the topic layout in use.
func (b *Bridge) Topics() Topics { return b.topics }

// Duration returns the minutes used for remote starts.
func (b *Bridge) Duration() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.duration
}

// Start subscribes to the command topics and publishes discovery and the
// current state.
func (b *Bridge) Start() error {
	for _, topic := range []string{b.topics.Command(), b.topics.ChannelCommandFilter(), b.topics.DurationSet()} {
		if err := b.transport.Subscribe(topic, b.handleMessage); err != nil {
			return err
		}
	}
	limits := b.ctrl.Limits()
	docs, err := b.topics.Discovery(limits.Channels, limits.MinDuration, limits.MaxDuration)
	if err != nil {
		return err
	}
	for _, d := range docs {
		b.publish(d.Topic, true, d.Payload)
	}
	b.PublishAll()
	return nil
}

func (b *Bridge) handleMessage(topic string, payload []byte) {
	cmd, err := b.topics.ParseCommand(topic, payload)
	if err != nil {
		b.logger.Warn().Err(err).Str("topic", topic).Msg("ignoring MQTT message")
		return
	}

	switch cmd.Kind {
	case CommandStart:
		ch := cmd.Channel
		if ch == 0 {
			ch = 1
		}
		b.logger.Info().Int("channel", ch).Msg("starting irrigation via MQTT")
		if err := b.ctrl.Start(ch, b.Duration(), irrigation.SourceRemote); err != nil {
			b.logger.Warn().Err(err).Int("channel", ch).Msg("MQTT start rejected")
		}
		b.PublishState()
	case CommandStop:
		target := irrigation.StopAll()
		if cmd.Channel != 0 {
			target = irrigation.StopChannel(cmd.Channel)
		}
		b.logger.Info().Str("target", target.String()).Msg("stopping irrigation via MQTT")
		if err := b.ctrl.Stop(target); err != nil {
			b.logger.Warn().Err(err).Msg("MQTT stop rejected")
		}
		b.PublishState()
	case CommandSetDuration:
		if err := b.SetDuration(cmd.Minutes); err != nil {
			b.logger.Warn().Err(err).Int("minutes", cmd.Minutes).Msg("MQTT duration rejected")
		}
	}
}

var ErrDurationRange = errors.New("mqtt: duration out of range")

// SetDuration changes the minutes used for following remote starts.
func (b *Bridge) SetDuration(minutes int) error {
	limits := b.ctrl.Limits()
	if minutes < limits.MinDuration || minutes > limits.MaxDuration {
		return ErrDurationRange
	}
	b.mu.Lock()
	b.duration = minutes
	b.mu.Unlock()
	b.logger.Info().Int("minutes", minutes).Msg("remote duration set")
	b.publish(b.topics.Duration(), true, []byte(strconv.Itoa(minutes)))
	return nil
}

// HandleEvent mirrors controller events to the state topics.
func (b *Bridge) HandleEvent(e irrigation.Event) {
	switch e.Type {
	case irrigation.EventStarted, irrigation.EventStopped:
		b.publish(b.topics.ChannelState(e.Channel), true, OnOff(e.Type == irrigation.EventStarted))
		b.PublishState()
	case irrigation.EventSafetyTimeout, irrigation.EventSkipped, irrigation.EventFault:
		b.publishStatus(b.ctrl.Status())
	}
}

// SchedulesChanged republishes the schedule list.
func (b *Bridge) SchedulesChanged(schedules []irrigation.Schedule) {
	payload, err := FormatSchedulesPayload(schedules)
	if err != nil {
		b.logger.Error().Err(err).Msg("encode schedules")
		return
	}
	b.publish(b.topics.Schedules(), true, payload)
}

// PublishState publishes the aggregate switch state and the status document.
func (b *Bridge) PublishState() {
	s := b.ctrl.Status()
	b.publish(b.topics.State(), true, OnOff(s.Irrigating))
	b.publishStatus(s)
}

// PublishAll publishes every retained topic.
func (b *Bridge) PublishAll() {
	s := b.ctrl.Status()
	for _, ch := range s.Channels {
		b.publish(b.topics.ChannelState(ch.Channel), true, OnOff(ch.Active))
	}
	b.publish(b.topics.State(), true, OnOff(s.Irrigating))
	b.publishStatus(s)
	b.publish(b.topics.Duration(), true, []byte(strconv.Itoa(b.Duration())))
	b.SchedulesChanged(b.ctrl.Schedules())
}

func (b *Bridge) publishStatus(s irrigation.Status) {
	payload, err := FormatStatusPayload(s)
	if err != nil {
		b.logger.Error().Err(err).Msg("encode status")
		return
	}
	b.publish(b.topics.Status(), true, payload)
}

func (b *Bridge) publish(topic string, retained bool, payload []byte) {
	if !b.transport.IsConnected() {
		return
	}
	if err := b.transport.Publish(topic, retained, payload); err != nil {
		b.logger.Error().Err(err).Str("topic", topic).Msg("publish failed")
	}
}
