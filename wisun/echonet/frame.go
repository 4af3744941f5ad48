// Package echonet builds and parses ECHONET Lite frames as carried over
// the Wi-SUN dongle's UDP tunnel. The wire representation used throughout
// this package is the hex-ASCII string the dongle itself speaks (SKSENDTO
// takes raw bytes, while ERXUDP reports the payload as hex — the
// hex-to-bytes conversion for sending happens one layer up in udp.go);
// here frames are built and parsed as plain hex so the codec has no
// serial-line concerns.
package echonet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Fixed frame layout (spec §3): EHD1/EHD2, TID, SEOJ, DEOJ, ESV, OPC,
// then OPC * {EPC, PDC, EDT}. This core never batches properties, so
// OPC is always 1.
const (
	headerHex = "1081"
	tidHex    = "0001"
	seojHex   = "05FF01" // controller
	deojHex   = "028801" // low-voltage smart electric meter

	ESVGet      byte = 0x62
	ESVSetC     byte = 0x61
	ESVGetRes   byte = 0x72
	ESVSetRes   byte = 0x71
	ESVSetResC  byte = 0x52
)

// Property codes this core understands (spec §3).
const (
	EPCInstantPower      byte = 0xE7
	EPCInstantCurrent    byte = 0xE8
	EPCCumulativeEnergy  byte = 0xE0
	EPCCumulativeReverse byte = 0xE3
	EPCEnergyUnit        byte = 0xE1
	EPCFixedEnergy       byte = 0xEA
)

// overflowEnergy is the sentinel EDT value meaning "unavailable" for E0/E3.
const overflowEnergy uint32 = 0xFFFFFFFE

// EncodeGet builds a Get (0x62) request frame for a single EPC, returned
// as an upper-case hex string; the caller converts it to the raw bytes
// SKSENDTO sends.
func EncodeGet(epc byte) string {
	return buildFrame(ESVGet, epc, nil)
}

// EncodeSetC builds a SetC (0x61) request frame carrying edt as the
// property value.
func EncodeSetC(epc byte, edt []byte) string {
	return buildFrame(ESVSetC, epc, edt)
}

func buildFrame(esv, epc byte, edt []byte) string {
	var b strings.Builder
	b.WriteString(headerHex)
	b.WriteString(tidHex)
	b.WriteString(seojHex)
	b.WriteString(deojHex)
	fmt.Fprintf(&b, "%02X", esv)
	b.WriteString("01") // OPC: always one property
	fmt.Fprintf(&b, "%02X", epc)
	fmt.Fprintf(&b, "%02X", len(edt))
	b.WriteString(strings.ToUpper(hex.EncodeToString(edt)))
	return b.String()
}

var (
	// ErrNotAResponse means the frame is well-formed but not an ECHONET
	// Lite service response this core reacts to (e.g. a Get/SetC request
	// echoed back, or an unrelated ESV).
	ErrNotAResponse = errors.New("echonet: not a recognized response")
	// ErrPropertyNotFound means the frame parsed fine but none of its
	// properties matched the EPC the caller asked about.
	ErrPropertyNotFound = errors.New("echonet: property not present in frame")
	errFrameTooShort     = errors.New("echonet: frame too short")
	errMalformedProperty = errors.New("echonet: malformed property list")
)

// DecodeResponse parses payloadHex (an ECHONET Lite frame as hex ASCII)
// looking for expectedEPC among its properties, per spec §4.3.
func DecodeResponse(payloadHex string, expectedEPC byte) (edtHex string, err error) {
	if len(payloadHex) < 24 {
		return "", errFrameTooShort
	}
	if !strings.HasPrefix(payloadHex, headerHex) {
		return "", ErrNotAResponse
	}
	esvByte, err := hex.DecodeString(payloadHex[20:22])
	if err != nil {
		return "", errMalformedProperty
	}
	switch esvByte[0] {
	case ESVGetRes, ESVSetRes, ESVSetResC:
	default:
		return "", ErrNotAResponse
	}

	opcByte, err := hex.DecodeString(payloadHex[22:24])
	if err != nil {
		return "", errMalformedProperty
	}
	opc := int(opcByte[0])

	pos := 24
	wantEPC := strings.ToUpper(fmt.Sprintf("%02X", expectedEPC))
	for i := 0; i < opc; i++ {
		if len(payloadHex) < pos+4 {
			return "", errMalformedProperty
		}
		epc := payloadHex[pos : pos+2]
		pdcBytes, err := hex.DecodeString(payloadHex[pos+2 : pos+4])
		if err != nil {
			return "", errMalformedProperty
		}
		pdc := int(pdcBytes[0])
		edtStart := pos + 4
		edtEnd := edtStart + pdc*2
		if len(payloadHex) < edtEnd {
			return "", errMalformedProperty
		}
		if strings.EqualFold(epc, wantEPC) {
			return strings.ToUpper(payloadHex[edtStart:edtEnd]), nil
		}
		pos = edtEnd
	}
	return "", ErrPropertyNotFound
}
