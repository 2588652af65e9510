package dispatch

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/VerDatAs/tud-assistance-backbone/internal/delivery"
	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
	"github.com/VerDatAs/tud-assistance-backbone/internal/registry"
	"github.com/VerDatAs/tud-assistance-backbone/internal/store"
)

// Scheduled invokes proactive and informational assistance types on their
// cron cadence, independent of event arrival.
type Scheduled struct {
	core     core
	registry *registry.Registry
	sched    store.SchedulerStore
	tick     time.Duration
	now      func() time.Time

	shutdownComplete chan struct{}
}

// ScheduledOption configures the scheduled dispatcher.
type ScheduledOption func(*Scheduled)

// WithTick overrides the tick interval (default one minute).
func WithTick(tick time.Duration) ScheduledOption {
	return func(d *Scheduled) {
		if tick > 0 {
			d.tick = tick
		}
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) ScheduledOption {
	return func(d *Scheduled) {
		d.now = now
	}
}

// WithCoreOptions applies shared dispatcher options.
func WithCoreOptions(opts ...Option) ScheduledOption {
	return func(d *Scheduled) {
		for _, opt := range opts {
			opt(&d.core)
		}
	}
}

// NewScheduled constructs a scheduled dispatcher.
func NewScheduled(reg *registry.Registry, st store.StateStore, sched store.SchedulerStore, pipeline *delivery.Pipeline, opts ...ScheduledOption) *Scheduled {
	d := &Scheduled{
		core: core{
			store:       st,
			pipeline:    pipeline,
			logger:      log.New(log.Writer(), "[scheduler] ", log.LstdFlags|log.Lshortfile),
			maxAttempts: defaultMaxAttempts,
			evalTimeout: defaultEvaluatorTimeout,
		},
		registry:         reg,
		sched:            sched,
		tick:             time.Minute,
		now:              time.Now,
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the tick loop. It should be called in a goroutine. The
// first run happens immediately, so a schedule minute missed while the
// process was down fires once on startup.
func (d *Scheduled) Start(ctx context.Context) {
	ticker := time.NewTicker(d.tick)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.RunPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
			// The next tick acts as the backoff; intake stays suspended
			// rather than dropping the minute.
			d.core.logger.Printf("scheduled dispatch error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the tick loop has stopped. The current tick's in-flight
// evaluations run to completion first.
func (d *Scheduled) Wait() {
	<-d.shutdownComplete
}

// RunPending fires every enabled scheduled assistance type whose cron
// expression matched a minute since its persisted watermark. Missed minutes
// collapse into a single firing; the same (type, minute) pair never fires
// twice.
func (d *Scheduled) RunPending(ctx context.Context) error {
	minute := d.now().UTC().Truncate(time.Minute)

	for _, binding := range d.registry.ScheduledBindings() {
		typeID := binding.Type.ID

		last, ok, err := d.sched.LastFiredMinute(ctx, typeID)
		if err != nil {
			return err
		}

		due := false
		if ok {
			due = !binding.Schedule.Next(last).After(minute)
		} else {
			// First run ever: no watermark to catch up from.
			due = binding.MatchesMinute(minute)
		}

		// The watermark advances before any evaluator runs: a failed write
		// can then never be followed by a firing, so the same (type, minute)
		// pair cannot fire twice. A crash between the write and the firing
		// costs at most that one minute. Advancing without a firing keeps a
		// baseline for restarts to catch up from.
		if err := d.sched.SetLastFiredMinute(ctx, typeID, minute); err != nil {
			return err
		}

		if due {
			if err := d.fire(ctx, binding, minute); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Scheduled) fire(ctx context.Context, binding registry.Binding, minute time.Time) error {
	learners, err := d.eligibleLearners(ctx, binding.Type)
	if err != nil {
		return err
	}

	recordScheduledFiring(binding.Type.ID)
	scheduled := binding.Scheduled

	for _, learnerID := range learners {
		learnerID := learnerID
		evaluate := func(evalCtx context.Context, state domain.LearnerAssistanceState) (domain.LearnerAssistanceState, *domain.AssistanceDecision, error) {
			return scheduled.OnSchedule(evalCtx, learnerID, state, minute)
		}
		if err := d.core.processPair(ctx, binding.Type.ID, learnerID, minute, evaluate); err != nil {
			return err
		}
		recordScheduledLearner(binding.Type.ID)
	}
	return nil
}

func (d *Scheduled) eligibleLearners(ctx context.Context, descriptor domain.AssistanceType) ([]string, error) {
	switch descriptor.Eligibility {
	case domain.EligibilityAllKnownLearners:
		return d.core.store.KnownLearners(ctx)
	default:
		return d.core.store.LearnersWithState(ctx, descriptor.ID)
	}
}
