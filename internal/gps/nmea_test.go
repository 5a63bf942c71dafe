package gps

import (
	"errors"
	"math"
	"testing"
	"time"
)

func mustSentence(t *testing.T, line string) nmeaSentence {
	t.Helper()
	sent, err := parseNMEASentence(line)
	if err != nil {
		t.Fatalf("parseNMEASentence(%q): %v", line, err)
	}
	return sent
}

func TestParseNMEASentence_Checksum(t *testing.T) {
	sent := mustSentence(t, "$GPRMC,170834,A,4124.8963,N,08151.6838,W,10.5,83.1,220525,,*05")
	if sent.Type != "RMC" {
		t.Fatalf("type=%q want RMC", sent.Type)
	}

	if _, err := parseNMEASentence("$GPRMC,170834,A,4124.8963,N,08151.6838,W,10.5,83.1,220525,,*06"); err == nil {
		t.Fatal("expected checksum mismatch")
	}
	if _, err := parseNMEASentence("GPRMC,170834,A*33"); err == nil {
		t.Fatal("expected missing '$' error")
	}
	if _, err := parseNMEASentence("$GPRMC,170834,A"); err == nil {
		t.Fatal("expected missing checksum error")
	}
}

func TestFixState_RMCAndGGA(t *testing.T) {
	var st fixState

	publish, err := st.apply(mustSentence(t, "$GPGGA,170834,4124.8963,N,08151.6838,W,1,07,1.3,280.2,M,-34.0,M,,*71"))
	if err != nil {
		t.Fatalf("GGA: %v", err)
	}
	if publish {
		t.Fatal("GGA must not publish an epoch")
	}

	publish, err = st.apply(mustSentence(t, "$GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1*39"))
	if err != nil || publish {
		t.Fatalf("GSA: publish=%v err=%v", publish, err)
	}

	publish, err = st.apply(mustSentence(t, "$GPRMC,170834,A,4124.8963,N,08151.6838,W,10.5,83.1,220525,,*05"))
	if err != nil {
		t.Fatalf("RMC: %v", err)
	}
	if !publish {
		t.Fatal("RMC must publish an epoch")
	}

	fix := st.fix
	if fix.Status != Active {
		t.Fatalf("status=%v", fix.Status)
	}
	if fix.Satellites != 7 {
		t.Fatalf("satellites=%d", fix.Satellites)
	}
	if math.Abs(fix.Latitude-41.414938) > 1e-4 {
		t.Fatalf("latitude=%v", fix.Latitude)
	}
	if math.Abs(fix.Longitude-(-81.861397)) > 1e-4 {
		t.Fatalf("longitude=%v", fix.Longitude)
	}
	if math.Abs(fix.Altitude-280.2) > 1e-9 {
		t.Fatalf("altitude=%v", fix.Altitude)
	}
	if math.Abs(fix.PDOP-2.5) > 1e-9 || math.Abs(fix.HDOP-1.3) > 1e-9 || math.Abs(fix.VDOP-2.1) > 1e-9 {
		t.Fatalf("dop=%v/%v/%v", fix.PDOP, fix.HDOP, fix.VDOP)
	}
	if math.Abs(fix.Speed-10.5*knotsToMS) > 1e-9 {
		t.Fatalf("speed=%v", fix.Speed)
	}
	if math.Abs(fix.Course-83.1) > 1e-9 {
		t.Fatalf("course=%v", fix.Course)
	}
	want := time.Date(2025, 5, 22, 17, 8, 34, 0, time.UTC)
	if !fix.Time.Equal(want) {
		t.Fatalf("time=%v want %v", fix.Time, want)
	}
}

func TestFixState_InvalidStatus(t *testing.T) {
	var st fixState
	_, err := st.apply(mustSentence(t, "$GPRMC,170834,Z,4124.8963,N,08151.6838,W,10.5,83.1,220525,,*1E"))
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("error=%v want ErrInvalidStatus", err)
	}
}

func TestParseNMEALatLon(t *testing.T) {
	cases := []struct {
		v, hemi string
		want    float64
		ok      bool
	}{
		{"4124.8963", "N", 41.414938, true},
		{"4124.8963", "S", -41.414938, true},
		{"08151.6838", "W", -81.861397, true},
		{"08151.6838", "E", 81.861397, true},
		{"", "N", 0, false},
		{"4124.8963", "X", 0, false},
		{"12", "N", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseNMEALatLon(tc.v, tc.hemi)
		if ok != tc.ok {
			t.Fatalf("parseNMEALatLon(%q,%q) ok=%v want %v", tc.v, tc.hemi, ok, tc.ok)
		}
		if ok && math.Abs(got-tc.want) > 1e-4 {
			t.Fatalf("parseNMEALatLon(%q,%q)=%v want %v", tc.v, tc.hemi, got, tc.want)
		}
	}
}
