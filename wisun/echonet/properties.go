package echonet

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrBadEDTLength  = errors.New("echonet: EDT has unexpected length")
	ErrUnknownUnit   = errors.New("echonet: unrecognized energy unit code")
)

// Current holds the two-phase instantaneous current reading (EPC E8),
// in amps, derived from 0.1A units on the wire.
type Current struct {
	R float64
	T float64
}

// CumulativeEnergy is the raw-plus-overflow shape shared by E0 and E3:
// Overflow is true when the meter reports 0xFFFFFFFE (unavailable).
type CumulativeEnergy struct {
	Raw      uint32
	Overflow bool
}

// FixedEnergy is the EPC EA "fixed-time" cumulative reading: a
// timestamp plus the same raw-plus-overflow value as CumulativeEnergy.
type FixedEnergy struct {
	Year, Month, Day, Hour, Minute, Second int
	Value                                  CumulativeEnergy
}

// energyUnitTable maps the EPC E1 unit code to its kWh multiplier
// (spec §3). Codes not present here fall back to 0.1, logged by the
// caller.
var energyUnitTable = map[byte]float64{
	0x00: 1,
	0x01: 0.1,
	0x02: 0.01,
	0x03: 0.001,
	0x04: 0.0001,
	0x0A: 10,
	0x0B: 100,
	0x0C: 1000,
	0x0D: 10000,
}

// DecodeInstantPower interprets an E7 EDT as signed 32-bit watts.
func DecodeInstantPower(edtHex string) (int32, error) {
	raw, err := decodeHexBytes(edtHex, 4)
	if err != nil {
		return 0, err
	}
	return int32(be32(raw)), nil
}

// DecodeInstantCurrent interprets an E8 EDT as two signed 16-bit
// 0.1A values (R phase, T phase).
func DecodeInstantCurrent(edtHex string) (Current, error) {
	raw, err := decodeHexBytes(edtHex, 4)
	if err != nil {
		return Current{}, err
	}
	r := int16(be16(raw[0:2]))
	t := int16(be16(raw[2:4]))
	return Current{R: float64(r) / 10.0, T: float64(t) / 10.0}, nil
}

// DecodeCumulativeEnergy interprets an E0 or E3 EDT as unsigned
// 32-bit, with 0xFFFFFFFE mapped to Overflow.
func DecodeCumulativeEnergy(edtHex string) (CumulativeEnergy, error) {
	raw, err := decodeHexBytes(edtHex, 4)
	if err != nil {
		return CumulativeEnergy{}, err
	}
	v := be32(raw)
	return CumulativeEnergy{Raw: v, Overflow: v == overflowEnergy}, nil
}

// DecodeEnergyUnit interprets an E1 EDT as a kWh multiplier. An
// unrecognized code still yields the spec-mandated 0.1 fallback
// alongside ErrUnknownUnit so the caller can log it.
func DecodeEnergyUnit(edtHex string) (float64, error) {
	raw, err := decodeHexBytes(edtHex, 1)
	if err != nil {
		return 0, err
	}
	if mult, ok := energyUnitTable[raw[0]]; ok {
		return mult, nil
	}
	return 0.1, fmt.Errorf("%w: 0x%02X", ErrUnknownUnit, raw[0])
}

// DecodeFixedEnergy interprets an EA EDT: year(2B) month day hour
// minute second, then a 4B cumulative value.
func DecodeFixedEnergy(edtHex string) (FixedEnergy, error) {
	raw, err := decodeHexBytes(edtHex, 11)
	if err != nil {
		return FixedEnergy{}, err
	}
	value := be32(raw[7:11])
	return FixedEnergy{
		Year:   int(be16(raw[0:2])),
		Month:  int(raw[2]),
		Day:    int(raw[3]),
		Hour:   int(raw[4]),
		Minute: int(raw[5]),
		Second: int(raw[6]),
		Value:  CumulativeEnergy{Raw: value, Overflow: value == overflowEnergy},
	}, nil
}

func decodeHexBytes(edtHex string, wantLen int) ([]byte, error) {
	raw, err := hex.DecodeString(edtHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEDTLength, err)
	}
	if len(raw) != wantLen {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrBadEDTLength, len(raw), wantLen)
	}
	return raw, nil
}

func be16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
