// Package mackerel adapts a wisun.Client into a Mackerel monitoring
// agent plugin, ground: hnw-mackerel-plugin-smartmeter/lib/smartmeter.go's
// SmartmeterPlugin — the same power/current graph definition, same
// one-shot fetch-then-print protocol, reusing this repo's own
// connect/poll machinery instead of that package's inline SK dialog.
package mackerel

import (
	"context"
	"fmt"

	mp "github.com/mackerelio/go-mackerel-plugin"

	"wisun-meter-bridge/wisun"
)

// Plugin implements the three methods go-mackerel-plugin's
// NewMackerelPlugin expects: MetricKeyPrefix, GraphDefinition, and
// FetchMetrics.
type Plugin struct {
	Client wisun.Client
	Prefix string
}

// MetricKeyPrefix names the metric namespace Mackerel groups this
// plugin's values under.
func (p Plugin) MetricKeyPrefix() string {
	if p.Prefix == "" {
		return "smartmeter"
	}
	return p.Prefix
}

// GraphDefinition mirrors the teacher plugin's power+current graphs
// exactly, since Mackerel's graph catalogue is keyed by these names.
func (p Plugin) GraphDefinition() map[string]mp.Graphs {
	return map[string]mp.Graphs{
		"power": {
			Label: "Electric power consumption [W]",
			Unit:  "integer",
			Metrics: []mp.Metrics{
				{Name: "value", Label: "Electric power"},
			},
		},
		"current": {
			Label: "Electric current [A]",
			Unit:  "float",
			Metrics: []mp.Metrics{
				{Name: "r", Label: "R-phase current", Stacked: true},
				{Name: "t", Label: "T-phase current", Stacked: true},
			},
		},
	}
}

// FetchMetrics takes one power sample and one current sample from an
// already-connected Client and maps them onto the graph's metric
// names. Unlike the teacher plugin, connect/reconnect is handled
// upstream by the supervisor (C6); this method assumes the client
// is already joined and simply asks for the latest readings.
func (p Plugin) FetchMetrics() (map[string]float64, error) {
	ctx := context.Background()
	metrics := make(map[string]float64)

	power, err := p.Client.GetPowerData(ctx)
	if err != nil {
		return nil, fmt.Errorf("mackerel: power fetch: %w", err)
	}
	if power.InstantPower == nil {
		return nil, fmt.Errorf("mackerel: no power reading available")
	}
	metrics["value"] = float64(*power.InstantPower)

	if current, err := p.Client.GetCurrentData(ctx); err == nil && current != nil {
		metrics["r"] = current.R
		metrics["t"] = current.T
	}

	return metrics, nil
}

// Run connects client, takes one sample, and prints it in Mackerel's
// plugin protocol line format via mp.NewMackerelPlugin(...).Run(),
// the in-pack library's one intended entry point.
func Run(client wisun.Client, prefix string) error {
	ctx := context.Background()
	ok, err := client.Connect(ctx)
	if err != nil {
		return fmt.Errorf("mackerel: connect: %w", err)
	}
	if !ok {
		return fmt.Errorf("mackerel: connect did not join")
	}
	defer client.Close()

	plugin := mp.NewMackerelPlugin(Plugin{Client: client, Prefix: prefix})
	plugin.Run()
	return nil
}
