package evaluator

import (
	"context"
	"fmt"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
)

// Accumulator keys shared by the built-in evaluators.
const (
	accKeyAnswers       = "answers"
	accKeyFailures      = "failures"
	accKeyFailureStreak = "failure_streak"
)

// HintOnFailure offers a hint whenever a learner answers a content item
// incorrectly. The accumulator tracks totals and the current failure streak;
// delivery throttling is left to the pipeline's cooldown so repeated failures
// still update state.
type HintOnFailure struct {
	// Scorer optionally gates hints on an inferred struggle score. When nil
	// every incorrect answer produces a hint.
	Scorer Scorer
	// MinScore is the struggle score at or above which a hint is offered.
	MinScore float64
}

// TypeHintOnFailure returns the descriptor for the hint-on-failure type.
func TypeHintOnFailure() domain.AssistanceType {
	return domain.AssistanceType{
		ID:            "hint-on-failure",
		Version:       "v1",
		Category:      domain.CategoryReactive,
		Subscriptions: []domain.Verb{domain.VerbAnswered},
	}
}

// OnEvent implements Reactive.
func (h *HintOnFailure) OnEvent(ctx context.Context, event domain.ActivityEvent, state domain.LearnerAssistanceState) (domain.LearnerAssistanceState, *domain.AssistanceDecision, error) {
	next := state
	next.Accumulator = state.CloneAccumulator()
	next.AdvanceCursor(event.Timestamp)
	next.Accumulator[accKeyAnswers] = state.AccInt(accKeyAnswers) + 1

	correct, _ := event.Result["correct"].(bool)
	if correct {
		next.Accumulator[accKeyFailureStreak] = 0
		return next, nil, nil
	}

	streak := state.AccInt(accKeyFailureStreak) + 1
	next.Accumulator[accKeyFailures] = state.AccInt(accKeyFailures) + 1
	next.Accumulator[accKeyFailureStreak] = streak

	if h.Scorer != nil {
		score, err := h.Scorer.Score(ctx, event.LearnerID, next.Accumulator)
		if err != nil {
			return state, nil, err
		}
		if score < h.MinScore {
			return next, nil, nil
		}
	}

	decision := &domain.AssistanceDecision{
		AssistanceTypeID: "hint-on-failure",
		LearnerID:        event.LearnerID,
		TemplateKey:      "assistance.hint_on_failure.message",
		Parameters: map[string]any{
			"object_id":      event.ObjectID,
			"failure_streak": streak,
		},
		SuppressionKey: fmt.Sprintf("hint-on-failure:%s:%s", event.LearnerID, event.ObjectID),
	}
	return next, decision, nil
}
