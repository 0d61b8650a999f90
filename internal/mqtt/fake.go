package mqtt

import (
	"strings"
	"sync"
)

// Message is a published message recorded by FakeTransport.
type Message struct {
	Topic    string
	Retained bool
	Payload  []byte
}

// FakeTransport records published messages and delivers scripted inbound
// messages for test assertions.
type FakeTransport struct {
	mu sync.Mutex

	// Published contains every message published, in order.
	Published []Message

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Connected controls the return value of IsConnected.
	Connected bool

	// Closed tracks if Close was called.
	Closed bool

	handlers map[string]MessageHandler
}

// NewFakeTransport creates a connected FakeTransport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{Connected: true, handlers: make(map[string]MessageHandler)}
}

// Publish records the message.
func (f *FakeTransport) Publish(topic string, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Published = append(f.Published, Message{Topic: topic, Retained: retained, Payload: append([]byte(nil), payload...)})
	return nil
}

// Subscribe records the handler for the filter.
func (f *FakeTransport) Subscribe(topic string, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

// Deliver invokes every handler whose filter matches topic.
func (f *FakeTransport) Deliver(topic string, payload []byte) {
	f.mu.Lock()
	var matched []MessageHandler
	for filter, h := range f.handlers {
		if topicMatches(filter, topic) {
			matched = append(matched, h)
		}
	}
	f.mu.Unlock()
	for _, h := range matched {
		h(topic, payload)
	}
}

// Last returns the most recent payload published on topic.
func (f *FakeTransport) Last(topic string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Published) - 1; i >= 0; i-- {
		if f.Published[i].Topic == topic {
			return f.Published[i].Payload, true
		}
	}
	return nil, false
}

// Subscriptions returns the subscribed filters.
func (f *FakeTransport) Subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.handlers))
	for filter := range f.handlers {
		out = append(out, filter)
	}
	return out
}

// Reset forgets published messages.
func (f *FakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Published = nil
}

// IsConnected reports whether the fake transport is "connected".
func (f *FakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Close marks the transport as closed.
func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// topicMatches applies MQTT filter rules for + and #.
func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, part := range fp {
		if part == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if part != "+" && part != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
