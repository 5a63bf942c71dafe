package logic

import (
	"errors"
	"testing"
)

func TestPhaseTokenRoundTrip(t *testing.T) {
	phases := []Phase{
		Init, AcquiringFix, FixAcquired, WaitingLaunch, GoingUp,
		GoingDown, Landed, ShutDown, SafeMode, EternalLoop,
	}
	for _, p := range phases {
		got, err := ParsePhase(p.String())
		if err != nil {
			t.Fatalf("ParsePhase(%q): %v", p.String(), err)
		}
		if got != p {
			t.Errorf("round trip of %s: got %s", p, got)
		}
	}
}

func TestParsePhase_UnknownToken(t *testing.T) {
	for _, token := range []string{"", "BOGUS", "initializing", "GOING_UP "} {
		if _, err := ParsePhase(token); !errors.Is(err, ErrInvalidPhase) {
			t.Errorf("ParsePhase(%q): want ErrInvalidPhase, got %v", token, err)
		}
	}
}

func TestPhaseString(t *testing.T) {
	if got := GoingUp.String(); got != "GOING_UP" {
		t.Errorf("GoingUp.String() = %q", got)
	}
	if got := Init.String(); got != "INITIALIZING" {
		t.Errorf("Init.String() = %q", got)
	}
}
