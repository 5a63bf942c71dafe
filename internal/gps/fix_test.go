package gps

import (
	"errors"
	"testing"
)

func TestParseFixStatus(t *testing.T) {
	status, err := ParseFixStatus("A")
	if err != nil || status != Active {
		t.Fatalf("ParseFixStatus(A) = %v, %v", status, err)
	}
	status, err = ParseFixStatus("V")
	if err != nil || status != Void {
		t.Fatalf("ParseFixStatus(V) = %v, %v", status, err)
	}

	for _, bad := range []string{"", "a", "Ab", "invalid"} {
		if _, err := ParseFixStatus(bad); !errors.Is(err, ErrInvalidStatus) {
			t.Fatalf("ParseFixStatus(%q) error = %v, want ErrInvalidStatus", bad, err)
		}
	}
}

func TestFixStatusString(t *testing.T) {
	if Active.String() != "A" {
		t.Fatalf("Active.String() = %q", Active.String())
	}
	if Void.String() != "V" {
		t.Fatalf("Void.String() = %q", Void.String())
	}
}

func TestFixStatusRoundTrip(t *testing.T) {
	for _, status := range []FixStatus{Active, Void} {
		parsed, err := ParseFixStatus(status.String())
		if err != nil {
			t.Fatalf("round trip %v: %v", status, err)
		}
		if parsed != status {
			t.Fatalf("round trip %v = %v", status, parsed)
		}
	}
}

func TestFixIsValid(t *testing.T) {
	if !(Fix{Status: Active}).IsValid() {
		t.Fatal("active fix should be valid")
	}
	if (Fix{Status: Void}).IsValid() {
		t.Fatal("void fix should not be valid")
	}
}
