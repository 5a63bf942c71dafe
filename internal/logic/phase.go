// Package logic implements the flight state machine: the probe advances
// through persisted phases from power-on to shutdown, with a safe-mode
// fallback on unrecoverable peripheral failure.
package logic

import (
	"errors"
	"fmt"
)

// ErrInvalidPhase reports a phase token that does not name a known phase.
var ErrInvalidPhase = errors.New("logic: invalid flight phase")

// Phase is a flight phase. The zero value is Init.
type Phase int

const (
	// Init checks disk space and batteries and brings up peripherals.
	Init Phase = iota
	// AcquiringFix waits for a stable positioning fix.
	AcquiringFix
	// FixAcquired reports the launch-pad position and starts recording.
	FixAcquired
	// WaitingLaunch watches for the altitude jump that marks launch.
	WaitingLaunch
	// GoingUp monitors the ascent until balloon burst.
	GoingUp
	// GoingDown monitors the descent until landing.
	GoingDown
	// Landed reports the recovery position.
	Landed
	// ShutDown powers peripherals and the host off.
	ShutDown
	// SafeMode is the fallback on unrecoverable failure.
	SafeMode
	// EternalLoop replaces the fix-driven phases when no positioning
	// receiver is fitted.
	EternalLoop
)

var phaseTokens = map[Phase]string{
	Init:          "INITIALIZING",
	AcquiringFix:  "ACQUIRING_FIX",
	FixAcquired:   "FIX_ACQUIRED",
	WaitingLaunch: "WAITING_LAUNCH",
	GoingUp:       "GOING_UP",
	GoingDown:     "GOING_DOWN",
	Landed:        "LANDED",
	ShutDown:      "SHUT_DOWN",
	SafeMode:      "SAFE_MODE",
	EternalLoop:   "ETERNAL_LOOP",
}

// String returns the persistence token for the phase.
func (p Phase) String() string {
	if tok, ok := phaseTokens[p]; ok {
		return tok
	}
	return fmt.Sprintf("PHASE(%d)", int(p))
}

// ParsePhase maps a persistence token back to its phase. Unknown tokens are
// an error, never a default phase.
func ParsePhase(token string) (Phase, error) {
	for p, tok := range phaseTokens {
		if tok == token {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPhase, token)
}
