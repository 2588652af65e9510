package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
)

type pairKey struct {
	learnerID        string
	assistanceTypeID string
}

// InMemoryStore keeps learner state in process memory. It backs local
// development and tests, and doubles as the reference implementation of the
// compare-and-swap contract.
type InMemoryStore struct {
	mu        sync.RWMutex
	states    map[pairKey]domain.LearnerAssistanceState
	lastFired map[string]time.Time
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:    make(map[pairKey]domain.LearnerAssistanceState),
		lastFired: make(map[string]time.Time),
	}
}

// Get implements StateStore.
func (s *InMemoryStore) Get(_ context.Context, learnerID, assistanceTypeID string) (*domain.LearnerAssistanceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[pairKey{learnerID, assistanceTypeID}]
	if !ok {
		return nil, nil
	}
	state.Accumulator = state.CloneAccumulator()
	return &state, nil
}

// CompareAndSwap implements StateStore.
func (s *InMemoryStore) CompareAndSwap(_ context.Context, state *domain.LearnerAssistanceState, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{state.LearnerID, state.AssistanceTypeID}
	current, exists := s.states[key]

	if expectedVersion == 0 {
		if exists {
			return domain.ErrVersionConflict
		}
	} else if !exists || current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}

	state.Version = expectedVersion + 1
	state.UpdatedAt = time.Now().UTC()

	stored := *state
	stored.Accumulator = state.CloneAccumulator()
	s.states[key] = stored
	return nil
}

// LearnersWithState implements StateStore.
func (s *InMemoryStore) LearnersWithState(_ context.Context, assistanceTypeID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for key := range s.states {
		if key.assistanceTypeID == assistanceTypeID {
			seen[key.learnerID] = struct{}{}
		}
	}
	return sortedKeys(seen), nil
}

// KnownLearners implements StateStore.
func (s *InMemoryStore) KnownLearners(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for key := range s.states {
		seen[key.learnerID] = struct{}{}
	}
	return sortedKeys(seen), nil
}

// LastFiredMinute implements SchedulerStore.
func (s *InMemoryStore) LastFiredMinute(_ context.Context, assistanceTypeID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	minute, ok := s.lastFired[assistanceTypeID]
	return minute, ok, nil
}

// SetLastFiredMinute implements SchedulerStore.
func (s *InMemoryStore) SetLastFiredMinute(_ context.Context, assistanceTypeID string, minute time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastFired[assistanceTypeID] = minute.UTC().Truncate(time.Minute)
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
