package wisun

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"wisun-meter-bridge/wisun/echonet"
)

type respondRule struct {
	prefix string
	reply  string
}

// autoRespond watches port for newly written commands (ignoring
// anything already written before it starts) and feeds the matching
// scripted reply, emulating a dongle that answers registration and
// join commands immediately.
func autoRespond(t *testing.T, port *fakePort, rules []respondRule, stop <-chan struct{}) {
	t.Helper()
	go func() {
		seen := len(port.writtenCommands())
		for {
			select {
			case <-stop:
				return
			default:
			}
			cmds := port.writtenCommands()
			for seen < len(cmds) {
				cmd := cmds[seen]
				seen++
				for _, r := range rules {
					if strings.HasPrefix(cmd, r.prefix) {
						port.feed(r.reply)
						break
					}
				}
			}
		}
	}()
}

func reconnectRules(ipv6Addr string) []respondRule {
	return []respondRule{
		{"SKSETRBID", "OK\r\n"},
		{"SKSETPWD", "OK\r\n"},
		{"SKSREG S2", "OK\r\n"},
		{"SKSREG S3", "OK\r\n"},
		{"SKJOIN", "EVENT 25 " + ipv6Addr + "\r\n"},
	}
}

// TestRequestReconnectsAfterThresholdThenSucceeds covers testable
// property 7: two consecutive missing responses trigger one
// reconnect attempt, and on success a third request is issued in the
// same call and its response returned.
func TestRequestReconnectsAfterThresholdThenSucceeds(t *testing.T) {
	port := newFakePort()
	c := newTestClient(t, port)

	// First request: no ERXUDP fed, times out, consecutive_timeouts -> 1.
	edt, err := c.request(context.Background(), echonet.EPCInstantPower)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if edt != "" {
		t.Fatalf("first request: got %q, want empty (timeout)", edt)
	}
	if c.session.ConsecutiveTimeouts != 1 {
		t.Fatalf("consecutive timeouts = %d, want 1", c.session.ConsecutiveTimeouts)
	}

	// Second request crosses the threshold (its own SKSENDTO goes
	// unanswered, like the first), triggers reconnect, and on success
	// recursively retries once; only that retry's SKSENDTO is
	// answered, so the threshold-crossing attempt genuinely times out
	// rather than the reconnect path never firing.
	stop := make(chan struct{})
	defer close(stop)
	autoRespond(t, port, reconnectRules(c.session.IPv6Addr), stop)

	var sendtoSeen int32
	go func() {
		seen := len(port.writtenCommands())
		for {
			select {
			case <-stop:
				return
			default:
			}
			cmds := port.writtenCommands()
			for seen < len(cmds) {
				cmd := cmds[seen]
				seen++
				if strings.HasPrefix(cmd, "SKSENDTO") {
					if atomic.AddInt32(&sendtoSeen, 1) >= 2 {
						port.feed(synthERXUDP(c.session.IPv6Addr, "74", synthEchonetResponseHex(echonet.EPCInstantPower, "000007D0")) + "\r\n")
					}
				}
			}
		}
	}()

	edt, err = c.request(context.Background(), echonet.EPCInstantPower)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if edt != "000007D0" {
		t.Fatalf("got %q, want 000007D0", edt)
	}
	if c.session.ConsecutiveTimeouts != 0 {
		t.Fatalf("consecutive timeouts after recovery = %d, want 0", c.session.ConsecutiveTimeouts)
	}
}

// TestPreflightBacksOffAfterFailedReconnect covers testable property
// 10 / scenario S6: after a failed reconnect, preflight refuses the
// next backoffTicksAfterFailedReconnect calls without touching the
// serial line, then tries again.
func TestPreflightBacksOffAfterFailedReconnect(t *testing.T) {
	port := newFakePort()
	c := newTestClient(t, port)
	c.session.NeedsReconnect = true
	// No scripted replies at all: SKSETRBID gets no OK, so reconnect()
	// fails before SKJOIN is ever sent.

	ready, err := c.preflight(context.Background())
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if ready {
		t.Fatal("expected preflight to report not-ready after a failed reconnect")
	}
	if c.session.ReconnectBackoffTicks != backoffTicksAfterFailedReconnect {
		t.Fatalf("backoff ticks = %d, want %d", c.session.ReconnectBackoffTicks, backoffTicksAfterFailedReconnect)
	}

	writesBefore := len(port.writtenCommands())
	for i := 0; i < backoffTicksAfterFailedReconnect; i++ {
		ready, err := c.preflight(context.Background())
		if err != nil {
			t.Fatalf("preflight tick %d: %v", i, err)
		}
		if ready {
			t.Fatalf("preflight tick %d: expected not-ready during backoff window", i)
		}
	}
	if got := len(port.writtenCommands()); got != writesBefore {
		t.Fatalf("backoff window issued %d serial writes, want 0", got-writesBefore)
	}
	if c.session.ReconnectBackoffTicks != 0 {
		t.Fatalf("backoff ticks after window = %d, want 0", c.session.ReconnectBackoffTicks)
	}

	// The next tick attempts reconnect again instead of staying backed off.
	c.session.NeedsReconnect = true
	rules := reconnectRules(c.session.IPv6Addr)
	stop := make(chan struct{})
	defer close(stop)
	autoRespond(t, port, rules, stop)

	ready, err = c.preflight(context.Background())
	if err != nil {
		t.Fatalf("preflight after backoff: %v", err)
	}
	if !ready {
		t.Fatal("expected preflight to succeed once reconnect is retried with responses available")
	}
}

// TestCacheDeletedOnAuthFailure covers testable property 9's second
// half: a join failing with EVENT 24 during reconnect deletes the
// cache file.
func TestCacheDeletedOnAuthFailure(t *testing.T) {
	port := newFakePort()
	c := newTestClient(t, port)
	if err := writeCacheAtomic(c.cachePath, c.scan); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	rules := []respondRule{
		{"SKSETRBID", "OK\r\n"},
		{"SKSETPWD", "OK\r\n"},
		{"SKSREG S2", "OK\r\n"},
		{"SKSREG S3", "OK\r\n"},
		{"SKJOIN", "EVENT 24\r\n"},
	}
	stop := make(chan struct{})
	defer close(stop)
	autoRespond(t, port, rules, stop)

	ok, err := c.reconnect(context.Background())
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if ok {
		t.Fatal("expected reconnect to fail on EVENT 24")
	}
	if _, exists := loadCache(c.cachePath); exists {
		t.Fatal("expected cache file to be deleted after auth failure")
	}
}
