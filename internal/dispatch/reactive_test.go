package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/VerDatAs/tud-assistance-backbone/internal/delivery"
	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
	"github.com/VerDatAs/tud-assistance-backbone/internal/evaluator"
	"github.com/VerDatAs/tud-assistance-backbone/internal/registry"
	"github.com/VerDatAs/tud-assistance-backbone/internal/store"
)

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}

func testLogger(t *testing.T) Option {
	return WithLogger(log.New(testWriter{t}, "", 0))
}

// captureChannel collects delivered messages for assertions.
type captureChannel struct {
	mu        sync.Mutex
	published []domain.AssistanceDecision
}

func (c *captureChannel) Name() string { return "capture" }

func (c *captureChannel) Publish(_ context.Context, decision domain.AssistanceDecision) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, decision)
	return nil
}

func (c *captureChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

// countingEvaluator increments one accumulator key and always decides.
type countingEvaluator struct {
	typeID string
	err    error
}

func (e *countingEvaluator) OnEvent(_ context.Context, event domain.ActivityEvent, state domain.LearnerAssistanceState) (domain.LearnerAssistanceState, *domain.AssistanceDecision, error) {
	if e.err != nil {
		return state, nil, e.err
	}
	next := state
	next.Accumulator = state.CloneAccumulator()
	next.AdvanceCursor(event.Timestamp)
	next.Accumulator["seen"] = state.AccInt("seen") + 1

	decision := &domain.AssistanceDecision{
		AssistanceTypeID: e.typeID,
		LearnerID:        event.LearnerID,
		TemplateKey:      "assistance.test.message",
		SuppressionKey:   fmt.Sprintf("%s:%s", e.typeID, event.LearnerID),
	}
	return next, decision, nil
}

// conflictingStore wraps a StateStore and forces the first n CAS calls per
// pair to conflict.
type conflictingStore struct {
	store.StateStore
	mu        sync.Mutex
	conflicts map[string]int
}

func newConflictingStore(inner store.StateStore, conflictsPerPair map[string]int) *conflictingStore {
	return &conflictingStore{StateStore: inner, conflicts: conflictsPerPair}
}

func (s *conflictingStore) CompareAndSwap(ctx context.Context, state *domain.LearnerAssistanceState, expectedVersion int64) error {
	key := state.AssistanceTypeID + "/" + state.LearnerID
	s.mu.Lock()
	remaining := s.conflicts[key]
	if remaining > 0 {
		s.conflicts[key] = remaining - 1
		s.mu.Unlock()
		return domain.ErrVersionConflict
	}
	s.mu.Unlock()
	return s.StateStore.CompareAndSwap(ctx, state, expectedVersion)
}

// unavailableStore fails every operation.
type unavailableStore struct{}

func (unavailableStore) Get(context.Context, string, string) (*domain.LearnerAssistanceState, error) {
	return nil, fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)
}

func (unavailableStore) CompareAndSwap(context.Context, *domain.LearnerAssistanceState, int64) error {
	return fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)
}

func (unavailableStore) LearnersWithState(context.Context, string) ([]string, error) {
	return nil, fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)
}

func (unavailableStore) KnownLearners(context.Context) ([]string, error) {
	return nil, fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)
}

func answered(learnerID, objectID string, correct bool, ts time.Time) domain.ActivityEvent {
	return domain.ActivityEvent{
		ID:        "stmt",
		LearnerID: learnerID,
		Verb:      domain.VerbAnswered,
		ObjectID:  objectID,
		Timestamp: ts,
		Result:    map[string]any{"correct": correct},
	}
}

func newTestPipeline(t *testing.T, cooldown time.Duration, channel delivery.Channel) *delivery.Pipeline {
	return delivery.NewPipeline(cooldown, []delivery.Channel{channel},
		delivery.WithLogger(log.New(testWriter{t}, "", 0)))
}

func TestDispatchRoutesToSubscribersOnly(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	channel := &captureChannel{}

	reg := registry.New()
	require.NoError(t, reg.Register(domain.AssistanceType{
		ID: "on-answer", Category: domain.CategoryReactive,
		Subscriptions: []domain.Verb{domain.VerbAnswered},
	}, &countingEvaluator{typeID: "on-answer"}))
	require.NoError(t, reg.Register(domain.AssistanceType{
		ID: "on-login", Category: domain.CategoryReactive,
		Subscriptions: []domain.Verb{domain.VerbLoggedIn},
	}, &countingEvaluator{typeID: "on-login"}))

	d := NewReactive(reg, st, newTestPipeline(t, time.Minute, channel), testLogger(t))
	require.NoError(t, d.Dispatch(ctx, answered("l1", "Q1", false, time.Now().UTC())))

	onAnswer, err := st.Get(ctx, "l1", "on-answer")
	require.NoError(t, err)
	require.NotNil(t, onAnswer)
	require.Equal(t, 1, onAnswer.AccInt("seen"))

	onLogin, err := st.Get(ctx, "l1", "on-login")
	require.NoError(t, err)
	require.Nil(t, onLogin, "non-subscribed type is never invoked")
}

func TestDispatchSkipsDisabledTypes(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	channel := &captureChannel{}

	reg := registry.New()
	require.NoError(t, reg.Register(domain.AssistanceType{
		ID: "on-answer", Category: domain.CategoryReactive,
		Subscriptions: []domain.Verb{domain.VerbAnswered},
	}, &countingEvaluator{typeID: "on-answer"}))
	require.NoError(t, reg.SetEnabled("on-answer", false))

	d := NewReactive(reg, st, newTestPipeline(t, time.Minute, channel), testLogger(t))
	require.NoError(t, d.Dispatch(ctx, answered("l1", "Q1", false, time.Now().UTC())))

	state, err := st.Get(ctx, "l1", "on-answer")
	require.NoError(t, err)
	require.Nil(t, state)
	require.Zero(t, channel.count())
}

func TestDispatchIgnoresAssistedEcho(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	channel := &captureChannel{}

	reg := registry.New()
	require.NoError(t, reg.Register(domain.AssistanceType{
		ID: "echo-trap", Category: domain.CategoryReactive,
		Subscriptions: []domain.Verb{domain.VerbAssisted},
	}, &countingEvaluator{typeID: "echo-trap"}))

	d := NewReactive(reg, st, newTestPipeline(t, time.Minute, channel), testLogger(t))
	event := domain.ActivityEvent{LearnerID: "l1", Verb: domain.VerbAssisted, Timestamp: time.Now().UTC()}
	require.NoError(t, d.Dispatch(ctx, event))
	require.Zero(t, channel.count())
}

func TestDispatchRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	inner := store.NewInMemoryStore()
	st := newConflictingStore(inner, map[string]int{"on-answer/l1": 2})
	channel := &captureChannel{}

	reg := registry.New()
	require.NoError(t, reg.Register(domain.AssistanceType{
		ID: "on-answer", Category: domain.CategoryReactive,
		Subscriptions: []domain.Verb{domain.VerbAnswered},
	}, &countingEvaluator{typeID: "on-answer"}))

	d := NewReactive(reg, st, newTestPipeline(t, time.Minute, channel), testLogger(t))
	require.NoError(t, d.Dispatch(ctx, answered("l1", "Q1", false, time.Now().UTC())))

	// Two conflicts, third attempt succeeds.
	state, err := inner.Get(ctx, "l1", "on-answer")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, 1, state.AccInt("seen"))
	require.Equal(t, 1, channel.count())
}

func TestDispatchSkipsPairAfterRetryExhaustion(t *testing.T) {
	ctx := context.Background()
	inner := store.NewInMemoryStore()
	st := newConflictingStore(inner, map[string]int{"first/l1": 99})
	channel := &captureChannel{}

	reg := registry.New()
	require.NoError(t, reg.Register(domain.AssistanceType{
		ID: "first", Category: domain.CategoryReactive,
		Subscriptions: []domain.Verb{domain.VerbAnswered},
	}, &countingEvaluator{typeID: "first"}))
	require.NoError(t, reg.Register(domain.AssistanceType{
		ID: "second", Category: domain.CategoryReactive,
		Subscriptions: []domain.Verb{domain.VerbAnswered},
	}, &countingEvaluator{typeID: "second"}))

	d := NewReactive(reg, st, newTestPipeline(t, time.Minute, channel), testLogger(t))
	require.NoError(t, d.Dispatch(ctx, answered("l1", "Q1", false, time.Now().UTC())),
		"exhausted retries must not fail the whole event")

	// The conflicted pair is skipped, the other subscriber still processed.
	first, err := inner.Get(ctx, "l1", "first")
	require.NoError(t, err)
	require.Nil(t, first)

	second, err := inner.Get(ctx, "l1", "second")
	require.NoError(t, err)
	require.Equal(t, 1, second.AccInt("seen"))
}

func TestDispatchContainsEvaluatorFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	channel := &captureChannel{}

	reg := registry.New()
	require.NoError(t, reg.Register(domain.AssistanceType{
		ID: "broken", Category: domain.CategoryReactive,
		Subscriptions: []domain.Verb{domain.VerbAnswered},
	}, &countingEvaluator{typeID: "broken", err: errors.New("boom")}))
	require.NoError(t, reg.Register(domain.AssistanceType{
		ID: "healthy", Category: domain.CategoryReactive,
		Subscriptions: []domain.Verb{domain.VerbAnswered},
	}, &countingEvaluator{typeID: "healthy"}))

	d := NewReactive(reg, st, newTestPipeline(t, time.Minute, channel), testLogger(t))
	require.NoError(t, d.Dispatch(ctx, answered("l1", "Q1", false, time.Now().UTC())))

	healthy, err := st.Get(ctx, "l1", "healthy")
	require.NoError(t, err)
	require.Equal(t, 1, healthy.AccInt("seen"))
}

type slowEvaluator struct{}

func (slowEvaluator) OnEvent(ctx context.Context, _ domain.ActivityEvent, state domain.LearnerAssistanceState) (domain.LearnerAssistanceState, *domain.AssistanceDecision, error) {
	<-ctx.Done()
	return state, nil, ctx.Err()
}

func TestDispatchAbortsSlowEvaluator(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	channel := &captureChannel{}

	reg := registry.New()
	require.NoError(t, reg.Register(domain.AssistanceType{
		ID: "slow", Category: domain.CategoryReactive,
		Subscriptions: []domain.Verb{domain.VerbAnswered},
	}, slowEvaluator{}))

	d := NewReactive(reg, st, newTestPipeline(t, time.Minute, channel),
		testLogger(t), WithEvaluatorTimeout(10*time.Millisecond))
	require.NoError(t, d.Dispatch(ctx, answered("l1", "Q1", false, time.Now().UTC())))

	state, err := st.Get(ctx, "l1", "slow")
	require.NoError(t, err)
	require.Nil(t, state, "timed-out evaluation leaves state unchanged")
	require.Zero(t, channel.count())
}

func TestDispatchEscalatesStoreOutage(t *testing.T) {
	ctx := context.Background()
	channel := &captureChannel{}

	reg := registry.New()
	require.NoError(t, reg.Register(domain.AssistanceType{
		ID: "on-answer", Category: domain.CategoryReactive,
		Subscriptions: []domain.Verb{domain.VerbAnswered},
	}, &countingEvaluator{typeID: "on-answer"}))

	d := NewReactive(reg, unavailableStore{}, newTestPipeline(t, time.Minute, channel), testLogger(t))
	err := d.Dispatch(ctx, answered("l1", "Q1", false, time.Now().UTC()))
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

// The §8 scenario: three failed answers on the same object inside the
// cooldown window deliver one hint, suppress two, and accumulate all three.
func TestRepeatedFailuresWithinCooldown(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	channel := &captureChannel{}

	reg := registry.New()
	require.NoError(t, reg.Register(evaluator.TypeHintOnFailure(), &evaluator.HintOnFailure{}))

	d := NewReactive(reg, st, newTestPipeline(t, 10*time.Minute, channel), testLogger(t))

	base := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		event := answered("L1", "Q7", false, base.Add(time.Duration(i)*2*time.Minute))
		require.NoError(t, d.Dispatch(ctx, event))
	}

	require.Equal(t, 1, channel.count(), "second and third hints are suppressed")

	state, err := st.Get(ctx, "L1", "hint-on-failure")
	require.NoError(t, err)
	require.Equal(t, 3, state.AccInt("answers"), "state updates are not suppressed")
	require.Equal(t, 3, state.AccInt("failures"))
	require.Equal(t, int64(3), state.Version)
}

// Concurrency safety: N concurrent events against one pair must produce the
// serial-composition accumulator with no lost updates.
func TestConcurrentDispatchHasNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	channel := &captureChannel{}

	reg := registry.New()
	require.NoError(t, reg.Register(domain.AssistanceType{
		ID: "on-answer", Category: domain.CategoryReactive,
		Subscriptions: []domain.Verb{domain.VerbAnswered},
	}, &countingEvaluator{typeID: "on-answer"}))

	// A generous retry budget absorbs the deliberate contention.
	d := NewReactive(reg, st, newTestPipeline(t, time.Minute, channel),
		testLogger(t), WithMaxAttempts(64))

	const events = 16
	var wg sync.WaitGroup
	wg.Add(events)
	for i := 0; i < events; i++ {
		go func(i int) {
			defer wg.Done()
			event := answered("l1", "Q1", false, time.Now().UTC().Add(time.Duration(i)*time.Millisecond))
			require.NoError(t, d.Dispatch(ctx, event))
		}(i)
	}
	wg.Wait()

	state, err := st.Get(ctx, "l1", "on-answer")
	require.NoError(t, err)
	require.Equal(t, events, state.AccInt("seen"))
	require.Equal(t, int64(events), state.Version)
}
