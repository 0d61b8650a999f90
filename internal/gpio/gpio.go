// Package gpio drives the valve relays with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake and log implementations allow running without hardware.
package gpio

import "fmt"

// Writer sets the valve output of each channel.
type Writer interface {
	// SetChannel energizes (on) or de-energizes the valve of a 1-based channel.
	SetChannel(channel int, on bool) error

	// Close releases GPIO resources, leaving every valve closed.
	Close() error
}

// Default pin assignment (BCM numbering) for a four-relay board.
var DefaultPins = []int{17, 27, 22, 23}

// DefaultChip is the character device of the Raspberry Pi header.
const DefaultChip = "gpiochip0"

func checkChannel(channel, count int) error {
	if channel < 1 || channel > count {
		return fmt.Errorf("gpio: channel %d not in 1..%d", channel, count)
	}
	return nil
}
