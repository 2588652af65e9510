package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
)

const (
	accKeyInteractions = "interactions"
	accKeyAsked        = "exchange_asked"
)

// ExchangeWillingness asks sufficiently active learners whether they are
// willing to exchange solutions with a peer. It subscribes to interaction
// verbs to accumulate activity and fires on a schedule, so it exercises both
// capability contracts of a single assistance type.
type ExchangeWillingness struct {
	// MinInteractions is the activity threshold below which the scheduled
	// tick stays silent for a learner.
	MinInteractions int
}

// TypeExchangeWillingness returns the descriptor for the peer exchange
// willingness type.
func TypeExchangeWillingness() domain.AssistanceType {
	return domain.AssistanceType{
		ID:            "exchange-willingness",
		Version:       "v1",
		Category:      domain.CategoryProactive,
		Subscriptions: []domain.Verb{domain.VerbInteracted, domain.VerbExperienced, domain.VerbCompleted},
		Schedule:      "*/30 * * * *",
		Eligibility:   domain.EligibilityLearnersWithState,
	}
}

// OnEvent implements Reactive: it only accumulates activity, never producing
// assistance on the reactive path.
func (e *ExchangeWillingness) OnEvent(_ context.Context, event domain.ActivityEvent, state domain.LearnerAssistanceState) (domain.LearnerAssistanceState, *domain.AssistanceDecision, error) {
	next := state
	next.Accumulator = state.CloneAccumulator()
	next.AdvanceCursor(event.Timestamp)
	next.Accumulator[accKeyInteractions] = state.AccInt(accKeyInteractions) + 1
	return next, nil, nil
}

// OnSchedule implements Scheduled.
func (e *ExchangeWillingness) OnSchedule(_ context.Context, learnerID string, state domain.LearnerAssistanceState, now time.Time) (domain.LearnerAssistanceState, *domain.AssistanceDecision, error) {
	threshold := e.MinInteractions
	if threshold <= 0 {
		threshold = 5
	}
	if state.AccInt(accKeyInteractions) < threshold || state.AccBool(accKeyAsked) {
		return state, nil, nil
	}

	next := state
	next.Accumulator = state.CloneAccumulator()
	next.Accumulator[accKeyAsked] = true

	decision := &domain.AssistanceDecision{
		AssistanceTypeID: "exchange-willingness",
		LearnerID:        learnerID,
		TemplateKey:      "assistance.peer_exchange.ask_willingness",
		Parameters: map[string]any{
			"options": []string{"yes", "no"},
		},
		SuppressionKey: fmt.Sprintf("exchange-willingness:%s", learnerID),
	}
	return next, decision, nil
}
