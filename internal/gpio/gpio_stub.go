//go:build !linux

package gpio

import "fmt"

// Stub implementation for non-Linux platforms.
func Open(pin int, consumer string) (Pin, error) {
	return nil, fmt.Errorf("gpio: unsupported on this platform")
}
