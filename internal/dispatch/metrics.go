package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
)

var (
	eventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistance_backbone",
		Subsystem: "dispatch",
		Name:      "events_total",
		Help:      "Number of normalized events dispatched, labeled by verb.",
	}, []string{"verb"})

	evaluationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistance_backbone",
		Subsystem: "dispatch",
		Name:      "evaluations_total",
		Help:      "Number of evaluator invocations committed, labeled by assistance type.",
	}, []string{"assistance_type"})

	conflictCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistance_backbone",
		Subsystem: "dispatch",
		Name:      "state_conflicts_total",
		Help:      "Number of compare-and-swap conflicts that triggered a retry.",
	}, []string{"assistance_type"})

	conflictExhaustedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistance_backbone",
		Subsystem: "dispatch",
		Name:      "state_conflicts_exhausted_total",
		Help:      "Number of (learner, type) pairs skipped after the retry budget was spent.",
	}, []string{"assistance_type"})

	evaluatorTimeoutCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistance_backbone",
		Subsystem: "dispatch",
		Name:      "evaluator_timeouts_total",
		Help:      "Number of evaluator invocations aborted by the evaluation deadline.",
	}, []string{"assistance_type"})

	evaluatorErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistance_backbone",
		Subsystem: "dispatch",
		Name:      "evaluator_errors_total",
		Help:      "Number of evaluator invocations that failed.",
	}, []string{"assistance_type"})

	scheduledFiringCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistance_backbone",
		Subsystem: "dispatch",
		Name:      "scheduled_firings_total",
		Help:      "Number of scheduled firings, labeled by assistance type.",
	}, []string{"assistance_type"})

	scheduledLearnerCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistance_backbone",
		Subsystem: "dispatch",
		Name:      "scheduled_learners_total",
		Help:      "Number of per-learner scheduled evaluations.",
	}, []string{"assistance_type"})
)

func init() {
	prometheus.MustRegister(
		eventCounter,
		evaluationCounter,
		conflictCounter,
		conflictExhaustedCounter,
		evaluatorTimeoutCounter,
		evaluatorErrorCounter,
		scheduledFiringCounter,
		scheduledLearnerCounter,
	)
}

func recordEventDispatched(verb domain.Verb) {
	eventCounter.WithLabelValues(string(verb)).Inc()
}

func recordEvaluation(assistanceType string) {
	evaluationCounter.WithLabelValues(assistanceType).Inc()
}

func recordConflict(assistanceType string) {
	conflictCounter.WithLabelValues(assistanceType).Inc()
}

func recordConflictExhausted(assistanceType string) {
	conflictExhaustedCounter.WithLabelValues(assistanceType).Inc()
}

func recordEvaluatorTimeout(assistanceType string) {
	evaluatorTimeoutCounter.WithLabelValues(assistanceType).Inc()
}

func recordEvaluatorError(assistanceType string) {
	evaluatorErrorCounter.WithLabelValues(assistanceType).Inc()
}

func recordScheduledFiring(assistanceType string) {
	scheduledFiringCounter.WithLabelValues(assistanceType).Inc()
}

func recordScheduledLearner(assistanceType string) {
	scheduledLearnerCounter.WithLabelValues(assistanceType).Inc()
}
