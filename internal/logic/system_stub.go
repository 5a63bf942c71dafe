//go:build !linux

package logic

import "errors"

func freeSpace(path string) (uint64, error) {
	return 0, errors.New("logic: free-space check not supported on this platform")
}

func powerOffHost() error {
	return errors.New("logic: power-off not supported on this platform")
}
