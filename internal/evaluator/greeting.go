package evaluator

import (
	"context"
	"fmt"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
)

const (
	accKeyLogins  = "logins"
	accKeyGreeted = "greeted"
	accKeyOnline  = "online"
)

// Greeting welcomes a learner on their first login and keeps the online flag
// of the pair's accumulator current on later logins and logouts.
type Greeting struct{}

// TypeGreeting returns the descriptor for the greeting type.
func TypeGreeting() domain.AssistanceType {
	return domain.AssistanceType{
		ID:            "greeting",
		Version:       "v1",
		Category:      domain.CategoryReactive,
		Subscriptions: []domain.Verb{domain.VerbLoggedIn, domain.VerbLoggedOut},
	}
}

// OnEvent implements Reactive.
func (g *Greeting) OnEvent(_ context.Context, event domain.ActivityEvent, state domain.LearnerAssistanceState) (domain.LearnerAssistanceState, *domain.AssistanceDecision, error) {
	next := state
	next.Accumulator = state.CloneAccumulator()
	next.AdvanceCursor(event.Timestamp)

	if event.Verb == domain.VerbLoggedOut {
		next.Accumulator[accKeyOnline] = false
		return next, nil, nil
	}

	next.Accumulator[accKeyOnline] = true
	next.Accumulator[accKeyLogins] = state.AccInt(accKeyLogins) + 1

	if state.AccBool(accKeyGreeted) {
		return next, nil, nil
	}
	next.Accumulator[accKeyGreeted] = true

	decision := &domain.AssistanceDecision{
		AssistanceTypeID: "greeting",
		LearnerID:        event.LearnerID,
		TemplateKey:      "assistance.greeting.message",
		Parameters:       map[string]any{"object_id": event.ObjectID},
		SuppressionKey:   fmt.Sprintf("greeting:%s", event.LearnerID),
	}
	return next, decision, nil
}
