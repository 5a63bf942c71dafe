package gpio

import (
	"fmt"
	"sync"
)

// Fake is an in-memory Pin for tests and bench rigs. It records the
// configured direction and level and can be pre-seeded.
type Fake struct {
	mu sync.Mutex

	Dir   Direction
	Level int

	// Err, when set, is returned by every operation.
	Err error

	// Writes records every SetValue in order.
	Writes []int
}

// NewFake returns a Fake pin at the given initial level.
func NewFake(level int) *Fake {
	return &Fake{Level: level}
}

// SetDirection implements Pin.
func (f *Fake) SetDirection(d Direction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Dir = d
	return nil
}

// Value implements Pin.
func (f *Fake) Value() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	return f.Level, nil
}

// SetValue implements Pin.
func (f *Fake) SetValue(v int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if v != 0 && v != 1 {
		return fmt.Errorf("gpio: invalid level %d", v)
	}
	f.Level = v
	f.Writes = append(f.Writes, v)
	return nil
}

// Close implements Pin.
func (f *Fake) Close() error { return nil }
