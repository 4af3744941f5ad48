package wisun

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Notifier is the minimal surface AnomalyDetector needs; satisfied by
// *notify.Webhook without wisun importing the notify package back.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// AnomalyDetector watches a stream of instant-power readings for a
// run of zero or missing values, which on a live meter usually means
// the bridge has silently stopped reading rather than the house
// actually drawing zero watts. It fires once per streak, not once per
// tick, so a stuck meter doesn't spam the notifier.
type AnomalyDetector struct {
	streakThreshold int
	streak          int
	fired           bool
	notifier        Notifier
	logger          *logrus.Logger
}

// NewAnomalyDetector builds a detector that fires after threshold
// consecutive zero/null readings.
func NewAnomalyDetector(threshold int, notifier Notifier, logger *logrus.Logger) *AnomalyDetector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AnomalyDetector{streakThreshold: threshold, notifier: notifier, logger: logger}
}

// Observe records one poll's instant power reading (nil if the poll
// returned no data this tick).
func (a *AnomalyDetector) Observe(ctx context.Context, power *int32) {
	if power != nil && *power != 0 {
		a.streak = 0
		a.fired = false
		return
	}

	a.streak++
	if a.streak < a.streakThreshold || a.fired {
		return
	}
	a.fired = true
	if a.notifier == nil {
		return
	}
	msg := fmt.Sprintf("smart meter has reported zero or no reading for %d consecutive polls", a.streak)
	if err := a.notifier.Notify(ctx, msg); err != nil {
		a.logger.WithError(err).Warn("wisun: anomaly notification failed")
	}
}
