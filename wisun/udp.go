package wisun

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wisun-meter-bridge/wisun/echonet"
)

// request is C5: it builds the ECHONET Lite frame for epc, emits it
// via SKSENDTO, and demultiplexes the dongle's asynchronous response
// stream looking for a matching ERXUDP. On timeout it counts toward
// the supervisor's reconnect threshold and, once crossed, retries the
// request exactly once after a successful reconnect.
func (c *RealClient) request(ctx context.Context, epc byte) (string, error) {
	if c.session == nil {
		return "", fmt.Errorf("wisun: request with no active session")
	}

	frameBytes, err := hex.DecodeString(echonet.EncodeGet(epc))
	if err != nil {
		return "", err
	}
	header := fmt.Sprintf("SKSENDTO 1 %s 0E1A 1 0 %04X ", c.session.IPv6Addr, len(frameBytes))
	if err := c.line.Write([]byte(header)); err != nil {
		return "", fmt.Errorf("wisun: SKSENDTO write: %w", err)
	}
	if err := c.line.Write(frameBytes); err != nil {
		return "", fmt.Errorf("wisun: SKSENDTO payload write: %w", err)
	}
	// spec §9 open question: the dongle's command parser rejects a
	// trailing CRLF after the binary payload; c.profile makes that a
	// per-vendor toggle instead of a hard-coded assumption.
	if c.profile.TrailingCRLFAfterPayload {
		if err := c.line.Write([]byte("\r\n")); err != nil {
			return "", fmt.Errorf("wisun: SKSENDTO trailing CRLF write: %w", err)
		}
	}

	edt, matched, lost := c.waitForResponse(epc, udpWaitTimeout)
	if lost {
		c.session.NeedsReconnect = true
		return "", nil
	}
	if matched {
		c.session.ConsecutiveTimeouts = 0
		return edt, nil
	}

	c.session.ConsecutiveTimeouts++
	if c.session.ConsecutiveTimeouts < consecutiveTimeoutThreshold {
		return "", nil
	}

	c.disp.Drain()
	ok, err := c.reconnect(ctx)
	if err != nil || !ok {
		return "", err
	}
	c.session.ConsecutiveTimeouts = 0
	return c.request(ctx, epc)
}

// waitForResponse reads dongle lines until a matching ERXUDP, an
// EVENT 29 (PANA lost), a non-zero EVENT 21 transmit result, or the
// deadline. EVENT 29 and a failed EVENT 21 return immediately rather
// than waiting out the remainder of timeout (spec §4.5 step 3).
func (c *RealClient) waitForResponse(epc byte, timeout time.Duration) (edt string, matched, lost bool) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false, false
		}
		select {
		case line, ok := <-c.disp.Lines():
			if !ok {
				return "", false, false
			}
			switch {
			case strings.Contains(line, "EVENT 29"):
				return "", false, true
			case strings.Contains(line, "EVENT 21"):
				fields := strings.Fields(line)
				if len(fields) >= 5 && fields[4] != "00" {
					return "", false, true
				}
			case strings.HasPrefix(line, "ERXUDP"):
				if got, ok := c.parseERXUDP(line, epc); ok {
					return got, true, false
				}
			}
		case <-time.After(remaining):
			return "", false, false
		}
	}
}

// parseERXUDP implements the layout table in spec §4.5: it handles
// both the SA2=1 (RSSI-carrying) and SA2=0 layouts, discards
// multicast and non-ECHONET-Lite frames, and on a frame carrying epc
// also updates the session's last observed RSSI.
func (c *RealClient) parseERXUDP(line string, epc byte) (string, bool) {
	parts := strings.Fields(line)

	var destField, rssiField, dataField string
	switch {
	case len(parts) >= 11:
		destField = parts[2]
		rssiField = parts[6]
		dataField = parts[10]
	case len(parts) >= 10:
		destField = parts[2]
		dataField = parts[9]
	default:
		return "", false
	}

	if strings.HasPrefix(destField, "FF02:") {
		return "", false
	}
	if !strings.HasPrefix(dataField, "1081") {
		return "", false
	}

	edt, err := echonet.DecodeResponse(dataField, epc)
	if err != nil {
		if !errors.Is(err, echonet.ErrPropertyNotFound) && !errors.Is(err, echonet.ErrNotAResponse) {
			c.logger.WithError(err).Warn("wisun: malformed ERXUDP payload skipped")
		}
		return "", false
	}

	if rssiField != "" {
		if v, err := strconv.ParseInt(rssiField, 16, 32); err == nil {
			rssi := int(v) - 107
			c.session.LastRSSI = &rssi
		}
	}
	return edt, true
}
