package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
)

func TestCompareAndSwapInsertsFreshState(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	state := domain.NewLearnerAssistanceState("l1", "hint-on-failure")
	state.Accumulator["answers"] = 1

	require.NoError(t, s.CompareAndSwap(ctx, &state, 0))
	require.Equal(t, int64(1), state.Version)

	loaded, err := s.Get(ctx, "l1", "hint-on-failure")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, int64(1), loaded.Version)
	require.Equal(t, 1, loaded.AccInt("answers"))
}

func TestCompareAndSwapDetectsConflicts(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	first := domain.NewLearnerAssistanceState("l1", "greeting")
	require.NoError(t, s.CompareAndSwap(ctx, &first, 0))

	// A second insert against version 0 must lose.
	second := domain.NewLearnerAssistanceState("l1", "greeting")
	require.ErrorIs(t, s.CompareAndSwap(ctx, &second, 0), domain.ErrVersionConflict)

	// An update against a stale version must lose too.
	stale := first
	stale.Accumulator = first.CloneAccumulator()
	require.NoError(t, s.CompareAndSwap(ctx, &first, 1))
	require.ErrorIs(t, s.CompareAndSwap(ctx, &stale, 1), domain.ErrVersionConflict)
}

func TestGetReturnsNilForAbsentState(t *testing.T) {
	s := NewInMemoryStore()
	loaded, err := s.Get(context.Background(), "nobody", "greeting")
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestGetReturnsIndependentCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	state := domain.NewLearnerAssistanceState("l1", "hint-on-failure")
	state.Accumulator["answers"] = 1
	require.NoError(t, s.CompareAndSwap(ctx, &state, 0))

	loaded, err := s.Get(ctx, "l1", "hint-on-failure")
	require.NoError(t, err)
	loaded.Accumulator["answers"] = 99

	again, err := s.Get(ctx, "l1", "hint-on-failure")
	require.NoError(t, err)
	require.Equal(t, 1, again.AccInt("answers"))
}

// Concurrent increments through the CAS protocol must compose serially:
// the final accumulator equals the number of successful updates.
func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	const writers = 16
	var wg sync.WaitGroup
	wg.Add(writers)

	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			for {
				loaded, err := s.Get(ctx, "l1", "hint-on-failure")
				require.NoError(t, err)

				var state domain.LearnerAssistanceState
				var expected int64
				if loaded == nil {
					state = domain.NewLearnerAssistanceState("l1", "hint-on-failure")
				} else {
					state = *loaded
					state.Accumulator = loaded.CloneAccumulator()
					expected = loaded.Version
				}
				state.Accumulator["answers"] = state.AccInt("answers") + 1

				err = s.CompareAndSwap(ctx, &state, expected)
				if err == nil {
					return
				}
				require.ErrorIs(t, err, domain.ErrVersionConflict)
			}
		}()
	}

	wg.Wait()

	final, err := s.Get(ctx, "l1", "hint-on-failure")
	require.NoError(t, err)
	require.Equal(t, writers, final.AccInt("answers"))
	require.Equal(t, int64(writers), final.Version)
}

func TestLearnerEnumeration(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	for _, pair := range []struct{ learner, typ string }{
		{"l1", "greeting"},
		{"l2", "greeting"},
		{"l2", "hint-on-failure"},
		{"l3", "hint-on-failure"},
	} {
		state := domain.NewLearnerAssistanceState(pair.learner, pair.typ)
		require.NoError(t, s.CompareAndSwap(ctx, &state, 0))
	}

	withGreeting, err := s.LearnersWithState(ctx, "greeting")
	require.NoError(t, err)
	require.Equal(t, []string{"l1", "l2"}, withGreeting)

	known, err := s.KnownLearners(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"l1", "l2", "l3"}, known)
}

func TestSchedulerStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	_, ok, err := s.LastFiredMinute(ctx, "learning-diary-reminder")
	require.NoError(t, err)
	require.False(t, ok)

	minute := time.Date(2024, time.March, 1, 18, 0, 42, 0, time.UTC)
	require.NoError(t, s.SetLastFiredMinute(ctx, "learning-diary-reminder", minute))

	stored, ok, err := s.LastFiredMinute(ctx, "learning-diary-reminder")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, minute.Truncate(time.Minute), stored)
}

func TestConflictErrorIsDistinguishable(t *testing.T) {
	err := domain.ErrVersionConflict
	require.True(t, errors.Is(err, domain.ErrVersionConflict))
	require.False(t, errors.Is(err, domain.ErrStoreUnavailable))
}
