package wisun

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// termResetWait is how long reconnect waits after SKTERM/SKRESET,
// neither of which has a guaranteed sentinel (spec §6).
var termResetWait = 1 * time.Second

// preflight is C6's pre-request check, run before every poll. It
// never touches the serial line while backing off, and otherwise
// either clears the session for a normal request or drives a
// reconnect synchronously.
func (c *RealClient) preflight(ctx context.Context) (ready bool, err error) {
	if c.session == nil {
		return false, nil
	}

	if c.session.ReconnectBackoffTicks > 0 {
		c.session.ReconnectBackoffTicks--
		return false, nil
	}

	if c.session.NeedsReconnect || c.session.ConsecutiveTimeouts >= consecutiveTimeoutThreshold {
		ok, err := c.reconnect(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			c.session.ReconnectBackoffTicks = backoffTicksAfterFailedReconnect
			return false, nil
		}
		c.session.NeedsReconnect = false
		c.session.ConsecutiveTimeouts = 0
		return true, nil
	}

	return true, nil
}

// reconnect is C6's recovery path: terminate, reset, drain, re-apply
// registration, and rejoin using the cached address. It returns false
// (not an error) for an ordinary join failure or timeout so the
// supervisor can back off; only a serial I/O error is propagated.
func (c *RealClient) reconnect(ctx context.Context) (bool, error) {
	c.disp.Send("SKTERM", "", termResetWait)
	c.disp.Send("SKRESET", "", termResetWait)
	c.disp.Drain()

	for _, step := range []struct{ cmd string }{
		{"SKSETRBID " + c.creds.BRouteID},
		{"SKSETPWD C " + c.creds.BRoutePassword},
		{"SKSREG S2 " + c.scan.Channel},
		{"SKSREG S3 " + c.scan.PanID},
	} {
		if _, err := c.sendExpect(step.cmd, "OK", commandWaitTimeout); err != nil {
			if errors.Is(err, errSentinelMissing) {
				c.logger.WithError(err).Warn("wisun: reconnect registration step failed")
				return false, nil
			}
			return false, fmt.Errorf("wisun: reconnect %s: %w", step.cmd, err)
		}
	}

	joined, authFailed, err := c.join(ctx, c.scan.IPv6Addr)
	if err != nil {
		return false, fmt.Errorf("wisun: reconnect SKJOIN: %w", err)
	}
	if authFailed {
		deleteCache(c.cachePath)
		return false, nil
	}
	if !joined {
		return false, nil
	}

	time.Sleep(postJoinSettle)
	c.disp.Drain()
	return true, nil
}
