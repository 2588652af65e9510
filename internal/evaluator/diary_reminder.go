package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
)

const accKeyReminders = "reminders"

// DiaryReminder nudges learners to keep their learning diary. It is purely
// scheduled: no verb subscription, one invocation per matching minute per
// eligible learner.
type DiaryReminder struct{}

// TypeDiaryReminder returns the descriptor for the learning diary reminder.
// The default cadence is daily at 18:00; provisioning can override the
// expression before registration.
func TypeDiaryReminder() domain.AssistanceType {
	return domain.AssistanceType{
		ID:          "learning-diary-reminder",
		Version:     "v1",
		Category:    domain.CategoryInformational,
		Schedule:    "0 18 * * *",
		Eligibility: domain.EligibilityAllKnownLearners,
	}
}

// OnSchedule implements Scheduled.
func (d *DiaryReminder) OnSchedule(_ context.Context, learnerID string, state domain.LearnerAssistanceState, now time.Time) (domain.LearnerAssistanceState, *domain.AssistanceDecision, error) {
	next := state
	next.Accumulator = state.CloneAccumulator()
	next.Accumulator[accKeyReminders] = state.AccInt(accKeyReminders) + 1

	decision := &domain.AssistanceDecision{
		AssistanceTypeID: "learning-diary-reminder",
		LearnerID:        learnerID,
		TemplateKey:      "assistance.learning_diary.reminder",
		Parameters:       map[string]any{"reminded_at": now.UTC().Format(time.RFC3339)},
		SuppressionKey:   fmt.Sprintf("learning-diary-reminder:%s", learnerID),
	}
	return next, decision, nil
}
