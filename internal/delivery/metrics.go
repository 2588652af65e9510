package delivery

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistance_backbone",
		Subsystem: "delivery",
		Name:      "messages_delivered_total",
		Help:      "Number of assistance messages handed to at least one outbound channel.",
	}, []string{"assistance_type"})

	suppressedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistance_backbone",
		Subsystem: "delivery",
		Name:      "messages_suppressed_total",
		Help:      "Number of decisions dropped by the cooldown deduplication.",
	}, []string{"assistance_type"})

	failureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistance_backbone",
		Subsystem: "delivery",
		Name:      "channel_failures_total",
		Help:      "Number of outbound channel errors, labeled by assistance type and channel.",
	}, []string{"assistance_type", "channel"})

	lastDeliveryGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "assistance_backbone",
		Subsystem: "delivery",
		Name:      "last_delivery_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful delivery.",
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, suppressedCounter, failureCounter, lastDeliveryGauge)
}

func recordDelivered(assistanceType string, ts time.Time) {
	deliveredCounter.WithLabelValues(assistanceType).Inc()
	lastDeliveryGauge.Set(float64(ts.Unix()))
}

func recordSuppressed(assistanceType string) {
	suppressedCounter.WithLabelValues(assistanceType).Inc()
}

func recordDeliveryFailure(assistanceType, channel string) {
	failureCounter.WithLabelValues(assistanceType, channel).Inc()
}
