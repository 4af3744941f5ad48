package echonet

import "testing"

func synthResponse(esv byte, epc byte, edtHex string) string {
	pdc := len(edtHex) / 2
	// A response frame carries SEOJ/DEOJ swapped relative to the request
	// (meter as source, controller as destination); decode_response does
	// not inspect object codes, so this only needs to look plausible.
	return headerHex + tidHex + deojHex + seojHex +
		hexByte(esv) + "01" + hexByte(epc) + hexByte(byte(pdc)) + edtHex
}

func hexByte(b byte) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[b>>4], digits[b&0xF]})
}

// TestCodecRoundTrip covers testable property 1: for every EPC a
// synthesised Get_Res response carrying that EPC's EDT decodes back
// to the same EDT.
func TestCodecRoundTrip(t *testing.T) {
	cases := []struct {
		epc byte
		edt string
	}{
		{EPCCumulativeEnergy, "00001234"},
		{EPCCumulativeReverse, "00000000"},
		{EPCInstantPower, "FFFFFED4"},
		{EPCInstantCurrent, "00320019"},
		{EPCFixedEnergy, "07E90C1F0B3A2C00001234"},
	}

	for _, c := range cases {
		frame := EncodeGet(c.epc)
		if frame[:len(headerHex)] != headerHex {
			t.Fatalf("EncodeGet(%02X) did not start with header: %s", c.epc, frame)
		}

		resp := synthResponse(ESVGetRes, c.epc, c.edt)
		got, err := DecodeResponse(resp, c.epc)
		if err != nil {
			t.Fatalf("DecodeResponse(%02X) error: %v", c.epc, err)
		}
		if got != c.edt {
			t.Errorf("EPC %02X round-trip: got %s, want %s", c.epc, got, c.edt)
		}
	}
}

// TestSignedInstantPower covers testable property 2.
func TestSignedInstantPower(t *testing.T) {
	cases := []struct {
		edt  string
		want int32
	}{
		{"FFFFFED4", -300},
		{"000003E8", 1000},
		{"7FFFFFFF", 2147483647},
	}
	for _, c := range cases {
		got, err := DecodeInstantPower(c.edt)
		if err != nil {
			t.Fatalf("DecodeInstantPower(%s): %v", c.edt, err)
		}
		if got != c.want {
			t.Errorf("DecodeInstantPower(%s) = %d, want %d", c.edt, got, c.want)
		}
	}
}

// TestCurrentSplit covers testable property 3.
func TestCurrentSplit(t *testing.T) {
	cases := []struct {
		edt  string
		r, tt float64
	}{
		{"00320019", 5.0, 2.5},
		{"FFCE0032", -5.0, 5.0},
	}
	for _, c := range cases {
		got, err := DecodeInstantCurrent(c.edt)
		if err != nil {
			t.Fatalf("DecodeInstantCurrent(%s): %v", c.edt, err)
		}
		if got.R != c.r || got.T != c.tt {
			t.Errorf("DecodeInstantCurrent(%s) = %+v, want R=%v T=%v", c.edt, got, c.r, c.tt)
		}
	}
}

// TestUnitMap covers testable property 4.
func TestUnitMap(t *testing.T) {
	cases := []struct {
		code byte
		want float64
	}{
		{0x00, 1}, {0x01, 0.1}, {0x02, 0.01}, {0x03, 0.001}, {0x04, 0.0001},
		{0x0A, 10}, {0x0B, 100}, {0x0C, 1000}, {0x0D, 10000},
	}
	for _, c := range cases {
		got, err := DecodeEnergyUnit(hexByte(c.code))
		if err != nil {
			t.Fatalf("DecodeEnergyUnit(0x%02X): unexpected error %v", c.code, err)
		}
		if got != c.want {
			t.Errorf("DecodeEnergyUnit(0x%02X) = %v, want %v", c.code, got, c.want)
		}
	}

	got, err := DecodeEnergyUnit(hexByte(0x99))
	if err == nil {
		t.Fatal("DecodeEnergyUnit(0x99): expected ErrUnknownUnit, got nil")
	}
	if got != 0.1 {
		t.Errorf("DecodeEnergyUnit(0x99) fallback = %v, want 0.1", got)
	}
}

func TestDecodeResponseNonMatchingEPC(t *testing.T) {
	resp := synthResponse(ESVGetRes, EPCCumulativeEnergy, "00000001")
	_, err := DecodeResponse(resp, EPCInstantPower)
	if err != ErrPropertyNotFound {
		t.Fatalf("expected ErrPropertyNotFound, got %v", err)
	}
}

func TestDecodeResponseRejectsOtherESV(t *testing.T) {
	resp := synthResponse(0x50, EPCInstantPower, "00000001") // SetC_SNA
	_, err := DecodeResponse(resp, EPCInstantPower)
	if err != ErrNotAResponse {
		t.Fatalf("expected ErrNotAResponse, got %v", err)
	}
}

func TestDecodeCumulativeEnergyOverflow(t *testing.T) {
	got, err := DecodeCumulativeEnergy("FFFFFFFE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Overflow {
		t.Errorf("expected Overflow=true for 0xFFFFFFFE")
	}
}
