package wisun

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Connect runs the C4 scan/join state machine: SKVER, credentials,
// SA2, scan-or-cache, register channel/PAN, resolve the link-local
// address, join, then persist the cache. It is the only place a
// Session is created.
func (c *RealClient) Connect(ctx context.Context) (bool, error) {
	lines, err := c.disp.Send("SKVER", "OK", commandWaitTimeout)
	if err != nil {
		return false, fmt.Errorf("wisun: SKVER: %w", err)
	}
	if !containsPrefix(lines, "EVER") {
		return false, fmt.Errorf("wisun: dongle did not answer SKVER")
	}

	if _, err := c.sendExpect("SKSETRBID "+c.creds.BRouteID, "OK", commandWaitTimeout); err != nil {
		return false, fmt.Errorf("wisun: SKSETRBID: %w", err)
	}
	if _, err := c.sendExpect("SKSETPWD C "+c.creds.BRoutePassword, "OK", commandWaitTimeout); err != nil {
		return false, fmt.Errorf("wisun: SKSETPWD: %w", err)
	}
	if _, err := c.sendExpect("SKSREG SA2 1", "OK", commandWaitTimeout); err != nil {
		return false, fmt.Errorf("wisun: SKSREG SA2: %w", err)
	}

	var scan cacheData
	if cached, ok := loadCache(c.cachePath); ok {
		scan = *cached
	} else {
		found, err := c.scanActive(ctx)
		if err != nil {
			return false, err
		}
		scan = found
	}
	c.scan = scan

	if _, err := c.sendExpect("SKSREG S2 "+scan.Channel, "OK", commandWaitTimeout); err != nil {
		return false, fmt.Errorf("wisun: SKSREG S2: %w", err)
	}
	if _, err := c.sendExpect("SKSREG S3 "+scan.PanID, "OK", commandWaitTimeout); err != nil {
		return false, fmt.Errorf("wisun: SKSREG S3: %w", err)
	}

	if scan.IPv6Addr == "" {
		lines, err := c.disp.Send("SKLL64 "+scan.Addr, "FE80:", commandWaitTimeout)
		if err != nil {
			return false, fmt.Errorf("wisun: SKLL64: %w", err)
		}
		addr, ok := firstWithPrefix(lines, "FE80:")
		if !ok {
			return false, fmt.Errorf("wisun: SKLL64 produced no link-local address")
		}
		scan.IPv6Addr = addr
		c.scan.IPv6Addr = addr
	}

	joined, authFailed, err := c.join(ctx, scan.IPv6Addr)
	if err != nil {
		return false, err
	}
	if authFailed {
		deleteCache(c.cachePath)
		return false, nil
	}
	if !joined {
		return false, nil
	}

	time.Sleep(500 * time.Millisecond)
	c.disp.Drain()

	c.session = &Session{IPv6Addr: scan.IPv6Addr}

	if err := writeCacheAtomic(c.cachePath, c.scan); err != nil {
		c.logger.WithError(err).Warn("wisun: failed to persist connection cache")
	}
	return true, nil
}

// join sends SKJOIN and waits for EVENT 25 (joined), EVENT 24 (auth
// failure), or the 30s timeout. It is shared by Connect (C4) and the
// supervisor's reconnect (C6).
func (c *RealClient) join(ctx context.Context, ipv6Addr string) (joined, authFailed bool, err error) {
	deadline := time.Now().Add(joinWaitTimeout)
	lines, err := c.disp.Send("SKJOIN "+ipv6Addr, "EVENT 2", joinWaitTimeout)
	for {
		if err != nil {
			return false, false, fmt.Errorf("wisun: SKJOIN: %w", err)
		}
		for _, l := range lines {
			switch {
			case strings.Contains(l, "EVENT 25"):
				return true, false, nil
			case strings.Contains(l, "EVENT 24"):
				return false, true, nil
			}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, false, nil
		}
		// Another EVENT 2x (e.g. an EVENT 21 transmit result) ended the
		// collection early; keep waiting for the join outcome.
		lines, err = c.disp.collect("EVENT 2", remaining)
	}
}

// scanActive runs SKSCAN and parses the Channel:/Pan ID:/Addr: lines
// out of the scan transcript, per spec §4.4 step 4.
func (c *RealClient) scanActive(ctx context.Context) (cacheData, error) {
	cmd := fmt.Sprintf("SKSCAN 2 FFFFFFFF %d 0", c.profile.ScanDuration)
	lines, err := c.disp.Send(cmd, "EVENT 22", scanWaitTimeout)
	if err != nil {
		return cacheData{}, fmt.Errorf("wisun: SKSCAN: %w", err)
	}

	var result cacheData
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		switch {
		case strings.HasPrefix(trimmed, "Channel:"):
			result.Channel = strings.TrimPrefix(trimmed, "Channel:")
		case strings.HasPrefix(trimmed, "Pan ID:"):
			result.PanID = strings.TrimPrefix(trimmed, "Pan ID:")
		case strings.HasPrefix(trimmed, "Addr:"):
			result.Addr = strings.TrimPrefix(trimmed, "Addr:")
		}
	}
	if result.Channel == "" || result.PanID == "" || result.Addr == "" {
		return cacheData{}, fmt.Errorf("wisun: active scan found no access point")
	}
	return result, nil
}

func containsPrefix(lines []string, prefix string) bool {
	_, ok := firstWithPrefix(lines, prefix)
	return ok
}

func firstWithPrefix(lines []string, prefix string) (string, bool) {
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), prefix) {
			return strings.TrimSpace(l), true
		}
	}
	return "", false
}
