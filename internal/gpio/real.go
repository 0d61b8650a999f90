//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealWriter drives relay lines on actual hardware through the Linux GPIO
// character device.
type RealWriter struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
}

// NewRealWriter requests one output line per channel, all initially inactive.
// With activeLow set, a logical on drives the line low, which suits the
// common opto-isolated relay boards.
func NewRealWriter(chipName string, pins []int, activeLow bool) (*RealWriter, error) {
	if len(pins) == 0 {
		return nil, fmt.Errorf("gpio: no pins configured")
	}
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("irrigation"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	w := &RealWriter{chip: chip}
	for i, pin := range pins {
		opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
		if activeLow {
			opts = append(opts, gpiocdev.AsActiveLow)
		}
		line, err := chip.RequestLine(pin, opts...)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("request channel %d pin %d: %w", i+1, pin, err)
		}
		w.lines = append(w.lines, line)
	}
	return w, nil
}

// SetChannel sets the logical value of a channel's line.
func (w *RealWriter) SetChannel(channel int, on bool) error {
	if err := checkChannel(channel, len(w.lines)); err != nil {
		return err
	}
	v := 0
	if on {
		v = 1
	}
	if err := w.lines[channel-1].SetValue(v); err != nil {
		return fmt.Errorf("set channel %d pin: %w", channel, err)
	}
	return nil
}

// Close de-energizes every line and returns it to an input so the relays stay
// released across a reboot.
func (w *RealWriter) Close() error {
	var errs []error
	for i, line := range w.lines {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release channel %d: %w", i+1, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure channel %d: %w", i+1, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel %d: %w", i+1, err))
		}
	}
	w.lines = nil
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		w.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
