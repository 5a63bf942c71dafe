//go:build !linux

package serial

import "fmt"

// Stub implementation for non-Linux platforms.
func Open(path string, baud int) (Port, error) {
	return nil, fmt.Errorf("serial: unsupported on this platform")
}
