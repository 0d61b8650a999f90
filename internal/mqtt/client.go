package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	qos            = 1
)

// Options configures the broker connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// AvailabilityTopic receives a retained "online" on connect and "offline"
	// as the last will.
	AvailabilityTopic string
}

// Client handles the broker connection and re-subscribes after reconnects.
type Client struct {
	client paho.Client
	opts   Options
	logger zerolog.Logger

	mu        sync.Mutex
	subs      map[string]MessageHandler
	onConnect func()
}

// NewClient creates and connects a new MQTT Client. When the broker is not
// reachable within the connect timeout the client keeps retrying in the
// background instead of failing.
func NewClient(o Options, logger zerolog.Logger) (*Client, error) {
	c := &Client{
		opts:   o,
		logger: logger.With().Str("component", "mqtt").Logger(),
		subs:   make(map[string]MessageHandler),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	// Handlers publish state back to the broker.
	opts.SetOrderMatters(false)
	if o.AvailabilityTopic != "" {
		opts.SetWill(o.AvailabilityTopic, "offline", qos, true)
	}
	opts.SetDefaultPublishHandler(c.messageHandler)
	opts.OnConnect = c.connectHandler
	opts.OnConnectionLost = c.connectionLostHandler

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		c.logger.Warn().Str("broker", o.Broker).Msg("MQTT broker not reachable yet, retrying in background")
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return c, nil
}

// connectHandler is called upon every successful (re)connection.
func (c *Client) connectHandler(client paho.Client) {
	c.logger.Info().Str("broker", c.opts.Broker).Msg("connected to MQTT broker")
	if c.opts.AvailabilityTopic != "" {
		client.Publish(c.opts.AvailabilityTopic, qos, true, "online")
	}

	c.mu.Lock()
	subs := make(map[string]MessageHandler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	onConnect := c.onConnect
	c.mu.Unlock()
	for topic, h := range subs {
		if err := c.subscribe(topic, h); err != nil {
			c.logger.Error().Err(err).Str("topic", topic).Msg("resubscribe failed")
		}
	}
	if onConnect != nil {
		onConnect()
	}
}

// OnConnect sets a function run after every (re)connection, once the
// subscriptions are restored.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = fn
}

// connectionLostHandler is called when the connection is lost.
func (c *Client) connectionLostHandler(client paho.Client, err error) {
	c.logger.Warn().Err(err).Msg("connection to MQTT broker lost")
}

// messageHandler catches messages on topics without a handler.
func (c *Client) messageHandler(client paho.Client, msg paho.Message) {
	c.logger.Debug().Str("topic", msg.Topic()).Msg("message without handler")
}

// Subscribe registers handler for a topic filter. The subscription is
// restored on every reconnect.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()
	if !c.client.IsConnectionOpen() {
		return nil
	}
	return c.subscribe(topic, handler)
}

func (c *Client) subscribe(topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		c.logger.Debug().Str("topic", msg.Topic()).Bytes("payload", msg.Payload()).Msg("message received")
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout subscribing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	c.logger.Info().Str("topic", topic).Msg("subscribed")
	return nil
}

// Publish sends a payload at QoS 1.
func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout publishing to topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("error publishing to topic %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close marks the device offline and disconnects the MQTT client.
func (c *Client) Close() error {
	if c.client.IsConnectionOpen() && c.opts.AvailabilityTopic != "" {
		c.client.Publish(c.opts.AvailabilityTopic, qos, true, "offline").WaitTimeout(time.Second)
	}
	c.client.Disconnect(250)
	return nil
}
