// Package mockmeter implements wisun.Client without any serial
// device, for bench testing and for running the HTTP/WebSocket
// façade on a machine with no dongle attached. The generated power
// curve follows the same time-of-day, season, and load-spike shape as
// the project's original mock data generator.
package mockmeter

import (
	"context"
	"math/rand"
	"time"

	"wisun-meter-bridge/wisun"
	"wisun-meter-bridge/wisun/echonet"
)

// Client is a wisun.Client backed by a synthetic load curve.
type Client struct {
	rng       *rand.Rand
	connected bool
}

// New builds a mock client seeded from the current time.
func New() *Client {
	return &Client{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (c *Client) Connect(ctx context.Context) (bool, error) {
	c.connected = true
	return true, nil
}

func (c *Client) Close() error {
	c.connected = false
	return nil
}

// GetPowerData synthesizes an instantaneous power reading: a
// time-of-day base load, a seasonal multiplier, ±20% noise, and a 10%
// chance of an appliance spike on top.
func (c *Client) GetPowerData(ctx context.Context) (wisun.PowerData, error) {
	now := time.Now()
	base := baseLoadForHour(now.Hour())
	base = int(float64(base) * seasonalMultiplier(now.Month()))

	noise := c.rng.Float64()*0.4 - 0.2 // [-0.2, 0.2)
	power := int32(float64(base) * (1 + noise))

	if c.rng.Float64() < 0.1 {
		spikes := []int32{800, 1000, 1200, 1500}
		power += spikes[c.rng.Intn(len(spikes))]
	}

	return wisun.PowerData{InstantPower: &power}, nil
}

func baseLoadForHour(hour int) int {
	switch {
	case hour >= 6 && hour < 9:
		return 1500
	case hour >= 9 && hour < 12:
		return 800
	case hour >= 12 && hour < 14:
		return 1200
	case hour >= 14 && hour < 18:
		return 600
	case hour >= 18 && hour < 22:
		return 2000
	case hour >= 22 && hour < 24:
		return 1000
	default:
		return 300
	}
}

func seasonalMultiplier(month time.Month) float64 {
	switch month {
	case time.July, time.August:
		return 1.3
	case time.January, time.February, time.December:
		return 1.4
	default:
		return 1.0
	}
}

// GetCurrentData synthesizes a two-phase current reading consistent
// with the mocked power draw (roughly P = 100V * (R+T)).
func (c *Client) GetCurrentData(ctx context.Context) (*echonet.Current, error) {
	power, err := c.GetPowerData(ctx)
	if err != nil || power.InstantPower == nil {
		return nil, err
	}
	total := float64(*power.InstantPower) / 100.0
	split := 0.45 + c.rng.Float64()*0.1 // R/T roughly balanced, ±5%
	return &echonet.Current{R: total * split, T: total * (1 - split)}, nil
}

// GetEnergyData synthesizes cumulative energy proportional to how far
// into the month it is, plus a smaller reverse (export) figure
// consistent with a small rooftop solar installation.
func (c *Client) GetEnergyData(ctx context.Context) (wisun.EnergyData, error) {
	now := time.Now()
	day := float64(now.Day())

	forward := day*20.0 + c.rng.Float64()*5
	reverse := day*5.0 + c.rng.Float64()*2
	fixed := forward - c.rng.Float64()

	forwardRaw := uint32(forward * 10)
	reverseRaw := uint32(reverse * 10)
	unit := 0.1

	fixedMinute := (now.Minute() / 30) * 30
	fixedTime := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), fixedMinute, 0, 0, now.Location())

	return wisun.EnergyData{
		CumulativeEnergy:        &forwardRaw,
		CumulativeEnergyReverse: &reverseRaw,
		FixedEnergy: &echonet.FixedEnergy{
			Year:   fixedTime.Year(),
			Month:  int(fixedTime.Month()),
			Day:    fixedTime.Day(),
			Hour:   fixedTime.Hour(),
			Minute: fixedTime.Minute(),
			Second: fixedTime.Second(),
			Value:  echonet.CumulativeEnergy{Raw: uint32(fixed * 10)},
		},
		EnergyUnit: &unit,
	}, nil
}

// GetConnectionInfo reports a fixed identity with a jittering RSSI in
// the -80..-50 dBm range, matching the original mock's behavior.
func (c *Client) GetConnectionInfo() wisun.ConnectionInfo {
	rssi := -80 + c.rng.Intn(31)
	var quality string
	switch {
	case rssi >= -60:
		quality = "excellent"
	case rssi >= -70:
		quality = "good"
	case rssi >= -80:
		quality = "fair"
	default:
		quality = "poor"
	}
	return wisun.ConnectionInfo{
		Channel:     "33",
		PanID:       "MOCK",
		MACAddr:     "MOCK00000001",
		IPv6Addr:    "FE80:0000:0000:0000:MOCK:MOCK:MOCK:0001",
		RSSI:        &rssi,
		RSSIQuality: quality,
	}
}
