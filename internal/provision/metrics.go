package provision

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	launchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workstation",
			Name:      "launch_total",
			Help:      "Total number of launch attempts by result",
		},
		[]string{"os", "region", "result"},
	)

	launchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "workstation",
			Name:      "launch_duration_seconds",
			Help:      "Time from accepted request to running workstation",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"os"},
	)

	launchesInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "workstation",
			Name:      "launches_in_flight",
			Help:      "Launches currently holding a regional capacity slot",
		},
		[]string{"region"},
	)
)

// RegisterMetrics registers the provisioning collectors with reg. Registering twice with
// the same registry is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{launchTotal, launchDuration, launchesInFlight} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

func recordLaunch(os, region, result string, seconds float64) {
	launchTotal.WithLabelValues(os, region, result).Inc()
	if result == "success" {
		launchDuration.WithLabelValues(os).Observe(seconds)
	}
}
