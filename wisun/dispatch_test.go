package wisun

import (
	"strings"
	"testing"
	"time"
)

func TestDispatcherSendCollectsUntilSentinel(t *testing.T) {
	port := newFakePort()
	line := NewLine(port)
	defer line.Close()
	disp := NewDispatcher(line)

	go func() {
		time.Sleep(10 * time.Millisecond)
		port.feed("EVER 1.2.3\r\nOK\r\n")
	}()

	lines, err := disp.Send("SKVER", "OK", time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(lines) != 2 || lines[0] != "EVER 1.2.3" || lines[1] != "OK" {
		t.Fatalf("got %v, want [EVER 1.2.3 OK]", lines)
	}

	cmds := port.writtenCommands()
	if len(cmds) != 1 || cmds[0] != "SKVER\r\n" {
		t.Fatalf("got writes %v, want [SKVER\\r\\n]", cmds)
	}
}

func TestDispatcherSendTimesOutWithoutSentinel(t *testing.T) {
	port := newFakePort()
	line := NewLine(port)
	defer line.Close()
	disp := NewDispatcher(line)

	lines, err := disp.Send("SKTERM", "", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no lines, got %v", lines)
	}
}

// TestDispatcherSendBinaryNoTrailingCRLF guards the hard dongle
// contract called out in spec §4.2: SKSENDTO's binary payload must
// not be followed by CRLF.
func TestDispatcherSendBinaryNoTrailingCRLF(t *testing.T) {
	port := newFakePort()
	line := NewLine(port)
	defer line.Close()
	disp := NewDispatcher(line)

	go func() {
		time.Sleep(10 * time.Millisecond)
		port.feed("EVENT 21 FE80::1 0 00\r\n")
	}()

	payload := []byte{0x10, 0x81, 0x00, 0x01}
	_, err := disp.SendBinary("SKSENDTO 1 FE80::1 0E1A 1 0 0004 ", payload, "EVENT 21", time.Second)
	if err != nil {
		t.Fatalf("SendBinary: %v", err)
	}

	cmds := port.writtenCommands()
	if len(cmds) != 2 {
		t.Fatalf("expected header and payload as two writes, got %d: %v", len(cmds), cmds)
	}
	if cmds[1] != string(payload) {
		t.Fatalf("payload write = %q, want %q", cmds[1], payload)
	}
	if strings.Contains(cmds[1], "\r\n") {
		t.Fatal("binary payload must not be followed by CRLF")
	}
}
