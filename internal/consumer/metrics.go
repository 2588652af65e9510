package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistance_backbone",
		Subsystem: "consumer",
		Name:      "statements_processed_total",
		Help:      "Number of statements successfully handled.",
	}, []string{"topic", "verb"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistance_backbone",
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Number of handler errors grouped by topic and verb.",
	}, []string{"topic", "verb"})

	rejectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistance_backbone",
		Subsystem: "consumer",
		Name:      "statements_rejected_total",
		Help:      "Number of dropped statements per topic and reject reason.",
	}, []string{"topic", "reason"})

	lastStatementGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "assistance_backbone",
		Subsystem: "consumer",
		Name:      "last_statement_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed statement per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, rejectedCounter, lastStatementGauge)
}

func recordProcessed(topic string, event domain.ActivityEvent) {
	processedCounter.WithLabelValues(topic, string(event.Verb)).Inc()
	if !event.Timestamp.IsZero() {
		lastStatementGauge.WithLabelValues(topic).Set(float64(event.Timestamp.Unix()))
	}
}

func recordHandlerError(topic string, verb domain.Verb) {
	handlerErrorCounter.WithLabelValues(topic, string(verb)).Inc()
}

func recordRejected(topic, reason string) {
	rejectedCounter.WithLabelValues(topic, reason).Inc()
}

// RecordLag allows external callers (e.g. tests) to set the last timestamp gauge directly.
func RecordLag(topic string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastStatementGauge.WithLabelValues(topic).Set(float64(ts.Unix()))
}
