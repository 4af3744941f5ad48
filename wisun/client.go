// Package wisun implements the Wi-SUN B-route bridge: the serial
// command-response state machine, the PANA scan/join/reconnect
// lifecycle, and the ECHONET Lite poll API that sits on top of them.
package wisun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wisun-meter-bridge/wisun/echonet"
)

// Credentials are the B-route identity handed to SKSETRBID/SKSETPWD.
type Credentials struct {
	BRouteID       string
	BRoutePassword string
}

// Session is the live PANA session record (spec §3). A nil Session on
// RealClient means "not joined"; GetPowerData/GetEnergyData on an
// unjoined client return all-null readings rather than erroring.
type Session struct {
	IPv6Addr              string
	LastRSSI              *int
	EnergyUnit            *float64
	ConsecutiveTimeouts   uint8
	NeedsReconnect        bool
	ReconnectBackoffTicks uint16
}

// consecutiveTimeoutThreshold is N from spec §4.5/§4.6.
const consecutiveTimeoutThreshold = 2

// backoffTicksAfterFailedReconnect is ~60s at a 5s poll cadence.
const backoffTicksAfterFailedReconnect = 12

// PowerData is the C7 get_power_data() result.
type PowerData struct {
	InstantPower *int32
}

// EnergyData is the C7 get_energy_data() result.
type EnergyData struct {
	CumulativeEnergy        *uint32
	CumulativeEnergyReverse *uint32
	FixedEnergy             *echonet.FixedEnergy
	EnergyUnit              *float64
}

// ConnectionInfo is the C7 get_connection_info() result.
type ConnectionInfo struct {
	Channel     string
	PanID       string
	MACAddr     string
	IPv6Addr    string
	RSSI        *int
	RSSIQuality string
}

// Client is the capability set design notes §9 calls for: one
// interface covering both the real dongle client and the bench-test
// mock, so collaborators never type-switch on which they hold.
type Client interface {
	Connect(ctx context.Context) (bool, error)
	Close() error
	GetPowerData(ctx context.Context) (PowerData, error)
	GetCurrentData(ctx context.Context) (*echonet.Current, error)
	GetEnergyData(ctx context.Context) (EnergyData, error)
	GetConnectionInfo() ConnectionInfo
}

// Config bundles everything needed to build a RealClient.
type Config struct {
	Line      LineConfig
	Creds     Credentials
	CachePath string
	Profile   Profile
	Logger    *logrus.Logger
}

// RealClient is the dongle-backed implementation of Client: C4
// (scan/join) through C7 (poll API) layered over a Dispatcher (C2)
// and Line (C1).
type RealClient struct {
	disp      *Dispatcher
	line      *Line
	creds     Credentials
	profile   Profile
	cachePath string
	logger    *logrus.Logger

	scan    cacheData
	session *Session
}

// NewRealClient opens the serial device and wires up the dispatcher;
// it does not perform any dongle handshake (that's Connect).
func NewRealClient(cfg Config) (*RealClient, error) {
	line, err := OpenLine(cfg.Line)
	if err != nil {
		return nil, fmt.Errorf("wisun: open line: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RealClient{
		disp:      NewDispatcher(line),
		line:      line,
		creds:     cfg.Creds,
		profile:   cfg.Profile,
		cachePath: cfg.CachePath,
		logger:    logger,
	}, nil
}

// Close releases the serial device.
func (c *RealClient) Close() error {
	return c.line.Close()
}

// GetConnectionInfo reports the current telemetry view. It never
// touches the serial line.
func (c *RealClient) GetConnectionInfo() ConnectionInfo {
	info := ConnectionInfo{
		Channel:     c.scan.Channel,
		PanID:       c.scan.PanID,
		MACAddr:     c.scan.Addr,
		IPv6Addr:    c.scan.IPv6Addr,
		RSSIQuality: "",
	}
	if c.session != nil && c.session.LastRSSI != nil {
		info.RSSI = c.session.LastRSSI
		info.RSSIQuality = rssiQuality(*c.session.LastRSSI)
	}
	return info
}

func rssiQuality(dBm int) string {
	switch {
	case dBm >= -60:
		return "excellent"
	case dBm >= -70:
		return "good"
	case dBm >= -80:
		return "fair"
	default:
		return "poor"
	}
}

// GetPowerData is C7's get_power_data.
func (c *RealClient) GetPowerData(ctx context.Context) (PowerData, error) {
	edt, err := c.pollRequest(ctx, echonet.EPCInstantPower)
	if err != nil || edt == "" {
		return PowerData{}, err
	}
	power, decodeErr := echonet.DecodeInstantPower(edt)
	if decodeErr != nil {
		c.logger.WithError(decodeErr).Warn("wisun: malformed instant power EDT")
		return PowerData{}, nil
	}
	return PowerData{InstantPower: &power}, nil
}

// GetCurrentData fetches E8, the two-phase instantaneous current
// reading. It is not part of C7's three poll calls in spec §4.7, but
// the mackerel plugin mode (SPEC_FULL "Supplemented features") needs
// it to populate the same power+current graph the teacher's
// mackerel-plugin precedent defines.
func (c *RealClient) GetCurrentData(ctx context.Context) (*echonet.Current, error) {
	edt, err := c.pollRequest(ctx, echonet.EPCInstantCurrent)
	if err != nil || edt == "" {
		return nil, err
	}
	cur, decodeErr := echonet.DecodeInstantCurrent(edt)
	if decodeErr != nil {
		c.logger.WithError(decodeErr).Warn("wisun: malformed instant current EDT")
		return nil, nil
	}
	return &cur, nil
}

// GetEnergyData is C7's get_energy_data. It fetches E1 (the unit
// code) at most once per session, per invariant (iii).
func (c *RealClient) GetEnergyData(ctx context.Context) (EnergyData, error) {
	var out EnergyData

	if c.session != nil && c.session.EnergyUnit != nil {
		out.EnergyUnit = c.session.EnergyUnit
	} else {
		if edt, err := c.pollRequest(ctx, echonet.EPCEnergyUnit); err == nil && edt != "" {
			mult, decodeErr := echonet.DecodeEnergyUnit(edt)
			if decodeErr != nil {
				c.logger.WithError(decodeErr).Warn("wisun: unrecognized energy unit code")
			}
			out.EnergyUnit = &mult
			if c.session != nil {
				c.session.EnergyUnit = &mult
			}
		}
	}

	if edt, err := c.pollRequest(ctx, echonet.EPCCumulativeEnergy); err == nil && edt != "" {
		if v, decodeErr := echonet.DecodeCumulativeEnergy(edt); decodeErr == nil && !v.Overflow {
			raw := v.Raw
			out.CumulativeEnergy = &raw
		}
	}

	if edt, err := c.pollRequest(ctx, echonet.EPCCumulativeReverse); err == nil && edt != "" {
		if v, decodeErr := echonet.DecodeCumulativeEnergy(edt); decodeErr == nil && !v.Overflow {
			raw := v.Raw
			out.CumulativeEnergyReverse = &raw
		}
	}

	if edt, err := c.pollRequest(ctx, echonet.EPCFixedEnergy); err == nil && edt != "" {
		if v, decodeErr := echonet.DecodeFixedEnergy(edt); decodeErr == nil {
			out.FixedEnergy = &v
		}
	}

	return out, nil
}

// errSentinelMissing distinguishes "the dongle didn't say OK in time"
// (a soft failure: the caller should treat the operation as failed
// and back off) from a real transport error coming out of Send.
var errSentinelMissing = fmt.Errorf("wisun: expected sentinel not observed")

// sendExpect wraps Dispatcher.Send and additionally fails if sentinel
// never actually appeared in the collected lines — Send itself stays
// sentinel-agnostic (spec §4.2: a timeout is not an error), so
// treating a missing OK as fatal is this layer's job.
func (c *RealClient) sendExpect(cmd, sentinel string, timeout time.Duration) ([]string, error) {
	lines, err := c.disp.Send(cmd, sentinel, timeout)
	if err != nil {
		return lines, err
	}
	for _, l := range lines {
		if strings.Contains(l, sentinel) {
			return lines, nil
		}
	}
	return lines, fmt.Errorf("%w: %q got %v", errSentinelMissing, cmd, lines)
}

// pollRequest runs the supervisor pre-flight check and, if clear,
// performs the UDP exchange for epc.
func (c *RealClient) pollRequest(ctx context.Context, epc byte) (string, error) {
	ready, err := c.preflight(ctx)
	if err != nil {
		return "", err
	}
	if !ready {
		return "", nil
	}
	return c.request(ctx, epc)
}

// Timeouts per spec §5. Declared as vars (rather than const) so tests
// can shrink them instead of waiting out real-world durations.
var (
	commandWaitTimeout = 10 * time.Second
	scanWaitTimeout    = 120 * time.Second
	joinWaitTimeout    = 30 * time.Second
	udpWaitTimeout     = 5 * time.Second
	postJoinSettle     = 2 * time.Second
)
