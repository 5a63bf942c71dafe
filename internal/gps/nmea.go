package gps

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const knotsToMS = 0.514444

type nmeaSentence struct {
	Type string
	// Fields is the comma-split NMEA payload (excluding $ and checksum).
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	ck = ck[:2]
	want, err := hex.DecodeString(ck)
	if err != nil || len(want) != 1 {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	if len(parts) == 0 {
		return nmeaSentence{}, fmt.Errorf("nmea: empty")
	}
	typeField := parts[0]
	if len(typeField) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	// Accept GNxxx/GPxxx, etc; normalize to last 3 chars.
	t := typeField
	if len(t) > 3 {
		t = t[len(t)-3:]
	}
	return nmeaSentence{Type: strings.ToUpper(t), Fields: parts}, nil
}

// fixState accumulates sentence fields into a Fix. RMC closes an epoch:
// apply reports publish=true only for RMC, and the fix it returns carries
// whatever GGA/GSA data arrived since the previous epoch.
type fixState struct {
	fix Fix
}

func (s *fixState) apply(sent nmeaSentence) (publish bool, err error) {
	switch sent.Type {
	case "RMC":
		return s.applyRMC(sent.Fields)
	case "GGA":
		s.applyGGA(sent.Fields)
	case "GSA":
		s.applyGSA(sent.Fields)
	}
	return false, nil
}

// RMC: Recommended Minimum Specific GNSS Data
// Fields (NMEA 0183 v2.3):
//
//	0: talker+type
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3: latitude (ddmm.mmmm)
//	4: N/S
//	5: longitude (dddmm.mmmm)
//	6: E/W
//	7: speed over ground (knots)
//	8: course over ground (deg)
//	9: date (ddmmyy)
func (s *fixState) applyRMC(f []string) (bool, error) {
	if len(f) < 10 {
		return false, fmt.Errorf("nmea: short RMC sentence (%d fields)", len(f))
	}

	status, err := ParseFixStatus(strings.TrimSpace(f[2]))
	if err != nil {
		return false, err
	}
	s.fix.Status = status

	if t, ok := parseNMEATime(f[9], f[1]); ok {
		s.fix.Time = t
	}
	if lat, ok := parseNMEALatLon(f[3], f[4]); ok {
		s.fix.Latitude = lat
	}
	if lon, ok := parseNMEALatLon(f[5], f[6]); ok {
		s.fix.Longitude = lon
	}
	if gs, ok := parseFloat(f[7]); ok {
		s.fix.Speed = gs * knotsToMS
	}
	if crs, ok := parseFloat(f[8]); ok {
		s.fix.Course = math.Mod(crs+360.0, 360.0)
	}
	return true, nil
}

// GGA: Global Positioning System Fix Data
// Fields:
//
//	0: talker+type
//	1: time
//	2: latitude
//	3: N/S
//	4: longitude
//	5: E/W
//	6: fix quality (0=invalid)
//	7: number of satellites
//	8: HDOP
//	9: altitude (meters)
//
// 10: units (M)
func (s *fixState) applyGGA(f []string) {
	if len(f) < 11 {
		return
	}
	if sats, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		s.fix.Satellites = sats
	}
	if hdop, ok := parseFloat(f[8]); ok {
		s.fix.HDOP = hdop
	}
	if alt, ok := parseFloat(f[9]); ok {
		s.fix.Altitude = alt
	}
}

// GSA: DOP and active satellites
// Fields 15, 16 and 17 are PDOP, HDOP and VDOP.
func (s *fixState) applyGSA(f []string) {
	if len(f) < 18 {
		return
	}
	if pdop, ok := parseFloat(f[15]); ok {
		s.fix.PDOP = pdop
	}
	if hdop, ok := parseFloat(f[16]); ok {
		s.fix.HDOP = hdop
	}
	if vdop, ok := parseFloat(f[17]); ok {
		s.fix.VDOP = vdop
	}
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNMEATime combines the RMC date (ddmmyy) and time (hhmmss.sss) fields.
func parseNMEATime(date, clock string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if len(date) != 6 || len(clock) < 6 {
		return time.Time{}, false
	}
	t, err := time.Parse("020106 150405", date+" "+clock[:6])
	if err != nil {
		return time.Time{}, false
	}
	// Sub-second part, when present.
	if dot := strings.IndexByte(clock, '.'); dot != -1 {
		if frac, err := strconv.ParseFloat(clock[dot:], 64); err == nil {
			t = t.Add(time.Duration(frac * float64(time.Second)))
		}
	}
	return t.UTC(), true
}

// parseNMEALatLon parses NMEA lat/lon in ddmm.mmmm or dddmm.mmmm plus hemisphere.
//
// For latitude (N/S): ddmm.mmmm
// For longitude (E/W): dddmm.mmmm
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	// Split degrees/minutes by taking everything up to the last two integer
	// digits as degrees.
	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	degPart := intPart[:len(intPart)-2]
	minPart := v[len(intPart)-2:]

	deg, err := strconv.Atoi(degPart)
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(minPart, 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + (mins / 60.0)
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
