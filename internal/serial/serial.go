// Package serial provides the byte-oriented duplex channel both hardware
// drivers run on.
//
// Reads are bounded: a port that stays quiet for the poll interval returns
// ErrTimeout instead of blocking forever, and callers can tell that apart
// from a genuine I/O failure with errors.Is.
package serial

import "errors"

// ErrTimeout is returned when a read produced no bytes within the port's
// poll interval.
var ErrTimeout = errors.New("serial: read timed out")

// Port is an open serial session.
type Port interface {
	// ReadByte returns the next byte, or ErrTimeout when the link stays
	// quiet for the poll interval.
	ReadByte() (byte, error)
	// Read fills p with whatever is available, returning ErrTimeout when
	// nothing arrives within the poll interval.
	Read(p []byte) (int, error)
	// Write writes all of p.
	Write(p []byte) (int, error)
	// Flush discards unread input and untransmitted output.
	Flush() error
	// Close closes the port.
	Close() error
}

// Opener opens a serial session at the given device path and baud rate.
// Drivers take an Opener so tests can substitute in-memory ports.
type Opener func(path string, baud int) (Port, error)
