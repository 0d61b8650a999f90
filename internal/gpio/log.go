package gpio

import (
	"sync"

	"github.com/rs/zerolog"
)

// LogWriter stands in for hardware on development machines. It logs every
// valve change and remembers the state.
type LogWriter struct {
	mu     sync.Mutex
	logger zerolog.Logger
	state  []bool
}

// NewLogWriter creates a LogWriter for the given number of channels.
func NewLogWriter(channels int, logger zerolog.Logger) *LogWriter {
	return &LogWriter{
		logger: logger.With().Str("component", "gpio").Logger(),
		state:  make([]bool, channels),
	}
}

// SetChannel logs the requested valve state.
func (w *LogWriter) SetChannel(channel int, on bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := checkChannel(channel, len(w.state)); err != nil {
		return err
	}
	if w.state[channel-1] != on {
		w.logger.Info().Int("channel", channel).Bool("on", on).Msg("valve changed")
	}
	w.state[channel-1] = on
	return nil
}

// State returns a copy of every channel's state.
func (w *LogWriter) State() []bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]bool, len(w.state))
	copy(out, w.state)
	return out
}

// Close releases every channel.
func (w *LogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.state {
		w.state[i] = false
	}
	return nil
}
