package domain

import (
	"errors"
	"time"
)

var (
	// ErrMalformedEvent indicates a raw statement missing required fields or
	// carrying unparseable types. The event is dropped, not fatal.
	ErrMalformedEvent = errors.New("malformed activity event")
	// ErrUnknownVerb indicates a statement verb outside the recognized
	// enumeration. The event is logged and dropped.
	ErrUnknownVerb = errors.New("unknown activity verb")
	// ErrVersionConflict is returned by the state store when the expected
	// version no longer matches; callers reload and retry.
	ErrVersionConflict = errors.New("state version conflict")
	// ErrConflictExhausted indicates the bounded retry count was spent on a
	// (learner, assistance type) pair; the pair is skipped for this trigger.
	ErrConflictExhausted = errors.New("state conflict retries exhausted")
	// ErrEvaluatorTimeout indicates an external scoring dependency exceeded
	// the evaluation budget; the decision is dropped, state unchanged.
	ErrEvaluatorTimeout = errors.New("evaluator timed out")
	// ErrStoreUnavailable indicates the persistence layer is unreachable.
	// Unlike the per-pair failures it is escalated: dispatchers suspend
	// intake with backoff instead of dropping events.
	ErrStoreUnavailable = errors.New("state store unavailable")
	// ErrDeliveryFailure indicates the outbound channel rejected a message.
	// State is already committed and is not rolled back.
	ErrDeliveryFailure = errors.New("assistance delivery failed")
	// ErrUnknownAssistanceType is returned for registry lookups by an
	// identifier that was never registered.
	ErrUnknownAssistanceType = errors.New("unknown assistance type")
)

// LearnerAssistanceState is the persisted record for one
// (learner, assistance type) pair. Writers must follow the optimistic
// concurrency protocol: a write succeeds only against the version last read.
type LearnerAssistanceState struct {
	LearnerID        string
	AssistanceTypeID string
	// Cursor marks the newest event timestamp considered so far.
	Cursor time.Time
	// Accumulator holds evaluator-defined features, persisted as a JSON
	// document.
	Accumulator map[string]any
	// LastDeliveredAt and LastSuppressionKey record the most recent message
	// actually delivered for this pair, updated in the same write as the
	// evaluator's state change.
	LastDeliveredAt    time.Time
	LastSuppressionKey string
	// Version increases by one on every successful write. Zero means the
	// record does not exist yet.
	Version   int64
	UpdatedAt time.Time
}

// NewLearnerAssistanceState returns the zero-value state used when a pair has
// no record yet.
func NewLearnerAssistanceState(learnerID, assistanceTypeID string) LearnerAssistanceState {
	return LearnerAssistanceState{
		LearnerID:        learnerID,
		AssistanceTypeID: assistanceTypeID,
		Accumulator:      make(map[string]any),
	}
}

// AdvanceCursor moves the cursor forward to ts if it is newer. Out-of-order
// events never move the cursor backwards.
func (s *LearnerAssistanceState) AdvanceCursor(ts time.Time) {
	if ts.After(s.Cursor) {
		s.Cursor = ts
	}
}

// AccInt reads an integer feature from the accumulator, tolerating the
// float64 representation produced by JSON round-trips.
func (s LearnerAssistanceState) AccInt(key string) int {
	switch v := s.Accumulator[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// AccBool reads a boolean feature from the accumulator.
func (s LearnerAssistanceState) AccBool(key string) bool {
	v, _ := s.Accumulator[key].(bool)
	return v
}

// CloneAccumulator returns a shallow copy of the accumulator so evaluators
// can derive a new state without mutating their input.
func (s LearnerAssistanceState) CloneAccumulator() map[string]any {
	out := make(map[string]any, len(s.Accumulator))
	for k, v := range s.Accumulator {
		out[k] = v
	}
	return out
}
