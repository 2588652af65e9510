package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	statementProcessedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "assistance_backbone",
		Subsystem: "pipeline",
		Name:      "last_statement_processed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent statement applied to learner state.",
	})
	decisionDeliveredGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "assistance_backbone",
		Subsystem: "pipeline",
		Name:      "last_decision_delivered_timestamp_seconds",
		Help:      "Unix timestamp of the most recent assistance decision delivered to a channel.",
	})
)

func init() {
	prometheus.MustRegister(statementProcessedGauge, decisionDeliveredGauge)
}

// RecordStatementProcessed updates the statement watermark gauge.
func RecordStatementProcessed(ts time.Time) {
	if ts.IsZero() {
		return
	}
	statementProcessedGauge.Set(float64(ts.Unix()))
}

// RecordDecisionDelivered updates the delivery watermark gauge.
func RecordDecisionDelivered(ts time.Time) {
	if ts.IsZero() {
		return
	}
	decisionDeliveredGauge.Set(float64(ts.Unix()))
}
