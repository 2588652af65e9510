// Package store defines the learner state persistence contract.
package store

import (
	"context"
	"time"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
)

// StateStore holds one document per (learner, assistance type) pair with
// version-numbered compare-and-swap semantics. State is partitioned so that
// no operation ever needs multi-document atomicity, which keeps the contract
// implementable on backings without transactions.
type StateStore interface {
	// Get returns the current state or nil when no record exists yet.
	Get(ctx context.Context, learnerID, assistanceTypeID string) (*domain.LearnerAssistanceState, error)
	// CompareAndSwap writes state if the stored version still equals
	// expectedVersion (zero inserts a fresh record). On success the state's
	// Version is bumped to expectedVersion+1. Returns
	// domain.ErrVersionConflict when another writer won the race.
	CompareAndSwap(ctx context.Context, state *domain.LearnerAssistanceState, expectedVersion int64) error
	// LearnersWithState enumerates learners holding state for the given type.
	LearnersWithState(ctx context.Context, assistanceTypeID string) ([]string, error)
	// KnownLearners enumerates every learner the store has seen for any type.
	KnownLearners(ctx context.Context) ([]string, error)
}

// SchedulerStore persists the last-fired minute per assistance type so that
// process restarts neither double-fire within a minute nor silently skip a
// missed one.
type SchedulerStore interface {
	LastFiredMinute(ctx context.Context, assistanceTypeID string) (time.Time, bool, error)
	SetLastFiredMinute(ctx context.Context, assistanceTypeID string, minute time.Time) error
}
