package gps

// UBX binary framing for the u-blox receiver. A frame is
//
//	[0xB5, 0x62, class, id, len_lo, len_hi, payload..., ck_a, ck_b]
//
// with the checksum computed over class through the end of payload.

const (
	ubxSync1 = 0xB5
	ubxSync2 = 0x62

	ubxClassAck = 0x05
	ubxIDAckAck = 0x01

	ubxClassCfg  = 0x06
	ubxIDCfgMsg  = 0x01
	ubxIDCfgNav5 = 0x24
)

// NMEA standard message ids for CFG-MSG (class 0xF0).
const (
	nmeaGLL = 0x01
	nmeaGSV = 0x03
	nmeaVTG = 0x05
	nmeaZDA = 0x08
)

// ubxChecksum computes the running (ck_a, ck_b) pair over the given bytes.
// Pure function: feeding the same bytes always yields the same pair.
func ubxChecksum(data []byte) (byte, byte) {
	var ckA, ckB byte
	for _, b := range data {
		ckA += b
		ckB += ckA
	}
	return ckA, ckB
}

// ubxFrame builds a complete frame for the given class, id and payload.
func ubxFrame(class, id byte, payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, ubxSync1, ubxSync2, class, id,
		byte(len(payload)), byte(len(payload)>>8))
	frame = append(frame, payload...)
	ckA, ckB := ubxChecksum(frame[2:])
	return append(frame, ckA, ckB)
}

// ubxAckFor returns the 10-byte ACK-ACK frame the receiver sends after
// accepting a configuration frame for the given class and id.
func ubxAckFor(class, id byte) []byte {
	return ubxFrame(ubxClassAck, ubxIDAckAck, []byte{class, id})
}

// cfgMsgDisable builds the CFG-MSG frame that silences an NMEA sentence
// category on the current port.
func cfgMsgDisable(msgID byte) []byte {
	return ubxFrame(ubxClassCfg, ubxIDCfgMsg, []byte{0xF0, msgID, 0x00})
}

// configFrames returns the bring-up frames: a 100 ms navigation rate and
// the sentence categories the ingestion path has no use for. RMC, GGA and
// GSA stay enabled.
func configFrames() [][]byte {
	return [][]byte{
		// CFG-RATE: 100 ms measurement period, 1 cycle, GPS time.
		{0xB5, 0x62, 0x06, 0x08, 0x06, 0x00, 0x64, 0x00, 0x01, 0x00, 0x01, 0x00, 0x7A, 0x12},
		cfgMsgDisable(nmeaGLL),
		cfgMsgDisable(nmeaGSV),
		cfgMsgDisable(nmeaVTG),
		cfgMsgDisable(nmeaZDA),
	}
}

// cfgNav5Airborne is the CFG-NAV5 frame selecting the airborne (<1g)
// dynamic platform model, so the solution filter tolerates stratospheric
// ascent rates instead of clamping altitude.
var cfgNav5Airborne = []byte{
	ubxSync1, ubxSync2, ubxClassCfg, ubxIDCfgNav5, 0x24, 0x00,
	// mask, dynModel=6 (airborne <1g), fixMode=3 (auto)
	0xFF, 0xFF, 0x06, 0x03, 0x00, 0x00, 0x00, 0x00, 0x10, 0x27,
	0x00, 0x00, 0x05, 0x00, 0xFA, 0x00, 0xFA, 0x00, 0x64, 0x00,
	0x2C, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x16, 0xDC,
}
