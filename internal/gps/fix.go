package gps

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidStatus is returned when a fix status code is not "A" or "V".
var ErrInvalidStatus = errors.New("gps: invalid fix status")

// FixStatus is the receiver's fix status.
type FixStatus int

const (
	// Active means the fix is valid.
	Active FixStatus = iota
	// Void means the fix is not valid.
	Void
)

// ParseFixStatus parses the single-letter status code from an RMC sentence.
func ParseFixStatus(s string) (FixStatus, error) {
	switch s {
	case "A":
		return Active, nil
	case "V":
		return Void, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

func (s FixStatus) String() string {
	switch s {
	case Active:
		return "A"
	case Void:
		return "V"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Fix is a single positioning solution. Values are copies; the receiver
// keeps ownership of the live slot.
type Fix struct {
	// Time of the fix.
	Time time.Time
	// Status of the fix.
	Status FixStatus
	// Satellites in use.
	Satellites int
	// Latitude in degrees, north positive.
	Latitude float64
	// Longitude in degrees, east positive.
	Longitude float64
	// Altitude above sea level, in meters.
	Altitude float64
	// PDOP is the position (3D) dilution of precision.
	PDOP float64
	// HDOP is the horizontal (2D) dilution of precision.
	HDOP float64
	// VDOP is the vertical (1D) dilution of precision.
	VDOP float64
	// Speed over ground, in m/s.
	Speed float64
	// Course over ground, in degrees.
	Course float64
}

// IsValid reports whether the fix comes from an active solution.
func (f Fix) IsValid() bool {
	return f.Status == Active
}
