package wisun

import (
	"context"
	"testing"
	"time"

	"wisun-meter-bridge/wisun/echonet"
)

// TestGetCurrentData exercises the E8 poll path the mackerel plugin
// mode relies on, mirroring the power-poll tests in udp_test.go.
func TestGetCurrentData(t *testing.T) {
	port := newFakePort()
	c := newTestClient(t, port)

	go func() {
		time.Sleep(10 * time.Millisecond)
		port.feed(synthERXUDP(c.session.IPv6Addr, "74", synthEchonetResponseHex(echonet.EPCInstantCurrent, "00320019")) + "\r\n")
	}()

	cur, err := c.GetCurrentData(context.Background())
	if err != nil {
		t.Fatalf("GetCurrentData: %v", err)
	}
	if cur == nil {
		t.Fatal("expected a current reading, got nil")
	}
	if cur.R != 5.0 || cur.T != 2.5 {
		t.Fatalf("got R=%v T=%v, want R=5.0 T=2.5", cur.R, cur.T)
	}
}

// TestGetCurrentDataNoSession asserts the unjoined-client contract
// (design notes: nullable fields, never an error) holds for the
// current poll path too.
func TestGetCurrentDataNoSession(t *testing.T) {
	port := newFakePort()
	line := NewLine(port)
	t.Cleanup(func() { line.Close() })

	c := &RealClient{
		disp:    NewDispatcher(line),
		line:    line,
		profile: DefaultProfile(),
	}

	cur, err := c.GetCurrentData(context.Background())
	if err != nil {
		t.Fatalf("GetCurrentData: %v", err)
	}
	if cur != nil {
		t.Fatalf("expected nil current with no session, got %+v", cur)
	}
}
