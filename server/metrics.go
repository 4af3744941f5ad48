package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	instantPowerGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wisun_instant_power_watts",
		Help: "Most recently polled instantaneous power in watts.",
	})
	readingMissingCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wisun_reading_missing_total",
		Help: "Polls that returned no instant power reading (pending reconnect or backoff).",
	})
)

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

func recordPowerMetric(power *int32) {
	if power == nil {
		readingMissingCounter.Inc()
		return
	}
	instantPowerGauge.Set(float64(*power))
}
