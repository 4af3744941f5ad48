// Package config loads the bridge's YAML configuration, applying
// defaults before unmarshaling over them the way the console server's
// config loader did.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BRoute   BRouteConfig   `yaml:"broute"`
	Serial   SerialConfig   `yaml:"serial"`
	Poll     PollConfig     `yaml:"poll"`
	HTTP     HTTPConfig     `yaml:"http"`
	Cache    CacheConfig    `yaml:"cache"`
	Logs     LogsConfig     `yaml:"logs"`
	History  HistoryConfig  `yaml:"history"`
	Alert    AlertConfig    `yaml:"alert"`
	Profile  ProfileConfig  `yaml:"profile"`
}

// BRouteConfig holds the B-route credentials. Values are normally left
// blank here and supplied via BROUTE_ID/BROUTE_PASSWORD in a .env file
// instead — see main.go's godotenv.Load call.
type BRouteConfig struct {
	ID       string `yaml:"id"`
	Password string `yaml:"password"`
}

type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	Mock     bool          `yaml:"mock"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

type CacheConfig struct {
	Path string `yaml:"path"`
}

type LogsConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// HistoryConfig sizes the in-memory reading ring (store.Ring) that
// backs /api/history, and locates the on-disk JSONL history
// (store.Writer), which is written but never read back.
type HistoryConfig struct {
	RingSize      int    `yaml:"ring_size"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type AlertConfig struct {
	ThresholdWatts   int32  `yaml:"threshold_watts"`
	Enabled          bool   `yaml:"enabled"`
	ContractAmperage int    `yaml:"contract_amperage"`
	WebhookURL       string `yaml:"webhook_url"`
	CooldownMinutes  int    `yaml:"cooldown_minutes"`
}

// ProfileConfig points at the vendor command profile (wisun/profile.go);
// an empty path leaves the compiled-in default in effect.
type ProfileConfig struct {
	Path string `yaml:"path"`
}

// Load reads path, applying defaults first so an operator's YAML file
// only needs to mention the fields it wants to override.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Serial: SerialConfig{
			Device: "/dev/ttyUSB0",
			Baud:   115200,
		},
		Poll: PollConfig{
			Interval: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			Port: 8080,
		},
		Cache: CacheConfig{
			Path: "/data/wisun_cache.json",
		},
		Logs: LogsConfig{
			Path:          "/data/logs",
			RetentionDays: 30,
		},
		History: HistoryConfig{
			RingSize:      720,
			Path:          "/data/readings",
			RetentionDays: 90,
		},
		Alert: AlertConfig{
			ThresholdWatts:  6000,
			CooldownMinutes: 15,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Credentials are expected from the environment (populated by
	// godotenv.Load in main.go), never committed to the YAML file.
	if v := os.Getenv("BROUTE_ID"); v != "" {
		cfg.BRoute.ID = v
	}
	if v := os.Getenv("BROUTE_PASSWORD"); v != "" {
		cfg.BRoute.Password = v
	}
	if v := os.Getenv("WISUN_MOCK"); v != "" {
		cfg.Poll.Mock = v == "1" || v == "true"
	}

	return cfg, nil
}
