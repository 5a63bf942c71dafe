// Package gpio exposes named digital pins on the GPIO character device.
//
// The flight computer only needs three lines: the receiver power switch,
// the modem power key and the modem status sense. Drivers take the Pin
// interface so tests can inject fakes.
package gpio

import "fmt"

// Direction of a digital pin.
type Direction int

const (
	// In configures the pin as an input.
	In Direction = iota
	// Out configures the pin as an output.
	Out
)

func (d Direction) String() string {
	switch d {
	case In:
		return "in"
	case Out:
		return "out"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Pin is a single digital GPIO line.
type Pin interface {
	// SetDirection configures the pin as input or output. Setting the
	// direction the pin already has is a no-op.
	SetDirection(d Direction) error
	// Value reads the current level, 0 or 1.
	Value() (int, error)
	// SetValue drives the level of an output pin.
	SetValue(v int) error
	// Close releases the line.
	Close() error
}
