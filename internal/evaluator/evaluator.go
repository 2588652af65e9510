// Package evaluator defines the pluggable assistance evaluation contract and
// the built-in assistance types.
//
// New assistance types are added by registering another implementation, never
// by branching in the dispatchers.
package evaluator

import (
	"context"
	"time"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
)

// Reactive is the capability contract for cooperative and reactive
// assistance types. Implementations must be pure functions of the event and
// state (reads through the ctx-bounded Scorer aside), so an invocation can be
// retried safely after a version conflict. A nil decision means no
// assistance.
type Reactive interface {
	OnEvent(ctx context.Context, event domain.ActivityEvent, state domain.LearnerAssistanceState) (domain.LearnerAssistanceState, *domain.AssistanceDecision, error)
}

// Scheduled is the capability contract for proactive and informational
// assistance types, invoked once per scheduled tick per eligible learner.
type Scheduled interface {
	OnSchedule(ctx context.Context, learnerID string, state domain.LearnerAssistanceState, now time.Time) (domain.LearnerAssistanceState, *domain.AssistanceDecision, error)
}

// Scorer is the pluggable learner-state inference hook. Implementations may
// call out to an external scoring service; the dispatcher bounds the call
// with the evaluation deadline on ctx.
type Scorer interface {
	Score(ctx context.Context, learnerID string, features map[string]any) (float64, error)
}
