package gpio

import "sync"

// FakeWriter is a test double that records every write.
type FakeWriter struct {
	mu sync.Mutex

	// Writes holds every SetChannel call in order.
	Writes []Write

	// WriteError, if set, is returned by SetChannel and the state is left
	// unchanged.
	WriteError error

	// Closed tracks if Close was called
	Closed bool

	state map[int]bool
	count int
}

// Write is a single recorded SetChannel call.
type Write struct {
	Channel int
	On      bool
}

// NewFakeWriter creates a FakeWriter with the given number of channels.
func NewFakeWriter(channels int) *FakeWriter {
	return &FakeWriter{count: channels, state: make(map[int]bool)}
}

// SetChannel records the write.
func (f *FakeWriter) SetChannel(channel int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkChannel(channel, f.count); err != nil {
		return err
	}
	f.Writes = append(f.Writes, Write{Channel: channel, On: on})
	if f.WriteError != nil {
		return f.WriteError
	}
	f.state[channel] = on
	return nil
}

// On reports the last successfully written state of a channel.
func (f *FakeWriter) On(channel int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[channel]
}

// Close releases every channel.
func (f *FakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.state {
		f.state[ch] = false
	}
	f.Closed = true
	return nil
}

// Reset forgets recorded writes.
func (f *FakeWriter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Writes = nil
	f.Closed = false
}
