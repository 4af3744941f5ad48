package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"wisun-meter-bridge/config"
	"wisun-meter-bridge/mackerel"
	"wisun-meter-bridge/mockmeter"
	"wisun-meter-bridge/notify"
	"wisun-meter-bridge/server"
	"wisun-meter-bridge/store"
	"wisun-meter-bridge/wisun"
)

// Version info - increment based on change magnitude:
// Major (x.0.0): Breaking changes, major rewrites
// Minor (0.y.0): New features, significant enhancements
// Patch (0.0.z): Bug fixes, minor improvements
var Version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	profilePath := flag.String("profile", "", "Path to a vendor dongle profile (TOML); empty uses the compiled-in default")
	mackerelMode := flag.Bool("mackerel-plugin", false, "Run once as a Mackerel agent plugin, printing one power+current sample and exiting")
	mackerelPrefix := flag.String("mackerel-prefix", "smartmeter", "Mackerel metric key prefix")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	// Credentials are the one thing an operator should keep out of
	// version control; .env is optional, its absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logs.Path != "" {
		os.MkdirAll(cfg.Logs.Path, 0755)
		logFile, err := os.OpenFile(cfg.Logs.Path+"/wisun-meter-bridge.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
		}
	}

	// The -profile flag wins when given; otherwise fall back to the
	// YAML-configured path (cfg.Profile.Path), and finally to the
	// compiled-in default if neither is set.
	resolvedProfilePath := *profilePath
	if resolvedProfilePath == "" {
		resolvedProfilePath = cfg.Profile.Path
	}
	profile, err := wisun.LoadProfile(resolvedProfilePath)
	if err != nil {
		log.Fatalf("Failed to load vendor profile: %v", err)
	}

	client, err := buildClient(cfg, profile)
	if err != nil {
		log.Fatalf("Failed to build meter client: %v", err)
	}
	defer client.Close()

	if *mackerelMode {
		if err := mackerel.Run(client, *mackerelPrefix); err != nil {
			log.Fatalf("mackerel plugin run failed: %v", err)
		}
		return
	}

	log.Infof("Starting wisun-meter-bridge v%s", Version)
	log.Infof("  Serial device: %s @ %d baud", cfg.Serial.Device, cfg.Serial.Baud)
	log.Infof("  Vendor profile: %s", profile.Name)
	log.Infof("  HTTP port: %d", cfg.HTTP.Port)
	log.Infof("  Mock mode: %v", cfg.Poll.Mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	ring := store.NewRing(cfg.History.RingSize)
	writer := store.NewWriter(cfg.History.Path, cfg.History.RetentionDays)
	defer writer.Close()

	webhook := notify.NewWebhook(cfg.Alert.WebhookURL, time.Duration(cfg.Alert.CooldownMinutes)*time.Minute)
	anomaly := wisun.NewAnomalyDetector(6, webhook, log.StandardLogger())

	srv := server.New(server.Config{
		Port:    cfg.HTTP.Port,
		Version: Version,
		Client:  client,
		Ring:    ring,
		Writer:  writer,
		Mock:    cfg.Poll.Mock,
		Settings: server.Settings{
			AlertThresholdWatts: cfg.Alert.ThresholdWatts,
			AlertEnabled:        cfg.Alert.Enabled,
			ContractAmperage:    cfg.Alert.ContractAmperage,
		},
	})

	connected, err := client.Connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to Wi-SUN dongle: %v", err)
	}
	if !connected {
		log.Warn("Initial Wi-SUN join did not succeed; the join is not retried and polls will report no data")
	}

	go runPollLoop(ctx, client, srv, webhook, anomaly, cfg.Poll.Interval)

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// buildClient returns the mock client when cfg.Poll.Mock is set (no
// serial device required), otherwise opens the real dongle.
func buildClient(cfg *config.Config, profile wisun.Profile) (wisun.Client, error) {
	if cfg.Poll.Mock {
		return mockmeter.New(), nil
	}
	return wisun.NewRealClient(wisun.Config{
		Line: wisun.LineConfig{
			Device: cfg.Serial.Device,
			Baud:   cfg.Serial.Baud,
		},
		Creds: wisun.Credentials{
			BRouteID:       cfg.BRoute.ID,
			BRoutePassword: cfg.BRoute.Password,
		},
		CachePath: cfg.Cache.Path,
		Profile:   profile,
		Logger:    log.StandardLogger(),
	})
}

// runPollLoop is the single serialized caller of the client's poll
// methods (spec §5: the serial device is an exclusive resource). It
// ticks at the configured cadence and also answers out-of-cadence
// refresh requests from the HTTP façade on the same goroutine, so the
// two never race on the client.
func runPollLoop(ctx context.Context, client wisun.Client, srv *server.Server, webhook *notify.Webhook, anomaly *wisun.AnomalyDetector, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poll := func() {
		power, err := client.GetPowerData(ctx)
		if err != nil {
			log.WithError(err).Warn("wisun: power poll failed")
		}
		energy, err := client.GetEnergyData(ctx)
		if err != nil {
			log.WithError(err).Warn("wisun: energy poll failed")
		}
		conn := client.GetConnectionInfo()

		srv.Publish(power, energy, conn)
		anomaly.Observe(ctx, power.InstantPower)

		settings := srv.GetSettings()
		if settings.AlertEnabled && power.InstantPower != nil && *power.InstantPower >= settings.AlertThresholdWatts {
			msg := fmt.Sprintf("instantaneous power %dW exceeds threshold %dW", *power.InstantPower, settings.AlertThresholdWatts)
			if err := webhook.Notify(ctx, msg); err != nil {
				log.WithError(err).Warn("wisun: alert webhook failed")
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		case <-srv.RequestRefresh():
			poll()
		}
	}
}
