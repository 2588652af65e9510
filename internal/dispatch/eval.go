// Package dispatch routes triggers (events and schedule ticks) to the
// registered evaluators and carries their decisions into delivery.
package dispatch

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/VerDatAs/tud-assistance-backbone/internal/delivery"
	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
	"github.com/VerDatAs/tud-assistance-backbone/internal/store"
)

const (
	defaultMaxAttempts      = 3
	defaultEvaluatorTimeout = 5 * time.Second
)

// evaluateFn applies one evaluator invocation to the current state. It must
// be safe to call repeatedly with reloaded state.
type evaluateFn func(ctx context.Context, state domain.LearnerAssistanceState) (domain.LearnerAssistanceState, *domain.AssistanceDecision, error)

// core implements the load/evaluate/compare-and-swap/retry discipline shared
// by the reactive and the scheduled dispatcher.
type core struct {
	store       store.StateStore
	pipeline    *delivery.Pipeline
	logger      *log.Logger
	maxAttempts int
	evalTimeout time.Duration
}

// processPair runs one trigger for one (learner, assistance type) pair.
//
// Per-pair failures (evaluator errors, timeouts, retry exhaustion) are
// logged and swallowed so one pair never blocks the remaining subscribers.
// Only a store outage propagates, to let the caller suspend intake.
func (c *core) processPair(ctx context.Context, assistanceTypeID, learnerID string, now time.Time, evaluate evaluateFn) error {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		loaded, err := c.store.Get(ctx, learnerID, assistanceTypeID)
		if err != nil {
			return err
		}

		var state domain.LearnerAssistanceState
		var expectedVersion int64
		if loaded == nil {
			state = domain.NewLearnerAssistanceState(learnerID, assistanceTypeID)
		} else {
			state = *loaded
			expectedVersion = loaded.Version
		}

		evalCtx, cancel := context.WithTimeout(ctx, c.evalTimeout)
		newState, decision, err := evaluate(evalCtx, state)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrEvaluatorTimeout) {
				c.logger.Printf("evaluator timeout (type=%s, learner=%s): %v", assistanceTypeID, learnerID, err)
				recordEvaluatorTimeout(assistanceTypeID)
				return nil
			}
			c.logger.Printf("evaluator error (type=%s, learner=%s): %v", assistanceTypeID, learnerID, err)
			recordEvaluatorError(assistanceTypeID)
			return nil
		}

		suppressed := c.pipeline.WithinCooldown(state, decision, now)
		if decision != nil && !suppressed {
			newState.LastDeliveredAt = now
			newState.LastSuppressionKey = decision.SuppressionKey
		}

		err = c.store.CompareAndSwap(ctx, &newState, expectedVersion)
		if err == nil {
			recordEvaluation(assistanceTypeID)
			if decision == nil {
				return nil
			}
			if suppressed {
				c.pipeline.Suppress(*decision)
			} else {
				c.pipeline.Deliver(ctx, *decision)
			}
			return nil
		}
		if errors.Is(err, domain.ErrVersionConflict) {
			recordConflict(assistanceTypeID)
			continue
		}
		return err
	}

	c.logger.Printf("state conflict retries exhausted (type=%s, learner=%s, attempts=%d): %v",
		assistanceTypeID, learnerID, c.maxAttempts, domain.ErrConflictExhausted)
	recordConflictExhausted(assistanceTypeID)
	return nil
}
