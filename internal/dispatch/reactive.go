package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/VerDatAs/tud-assistance-backbone/internal/delivery"
	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
	"github.com/VerDatAs/tud-assistance-backbone/internal/registry"
	"github.com/VerDatAs/tud-assistance-backbone/internal/store"
)

// Option configures optional dispatcher behaviour.
type Option func(*core)

// WithLogger overrides the logger used to report per-pair failures.
func WithLogger(logger *log.Logger) Option {
	return func(c *core) {
		c.logger = logger
	}
}

// WithMaxAttempts bounds the compare-and-swap retry count.
func WithMaxAttempts(attempts int) Option {
	return func(c *core) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

// WithEvaluatorTimeout bounds a single evaluator invocation.
func WithEvaluatorTimeout(timeout time.Duration) Option {
	return func(c *core) {
		if timeout > 0 {
			c.evalTimeout = timeout
		}
	}
}

// Reactive routes normalized events to every enabled assistance type
// subscribed to the event's verb.
type Reactive struct {
	core     core
	registry *registry.Registry
}

// NewReactive constructs a reactive dispatcher.
func NewReactive(reg *registry.Registry, st store.StateStore, pipeline *delivery.Pipeline, opts ...Option) *Reactive {
	d := &Reactive{
		core: core{
			store:       st,
			pipeline:    pipeline,
			logger:      log.New(log.Writer(), "[dispatch] ", log.LstdFlags|log.Lshortfile),
			maxAttempts: defaultMaxAttempts,
			evalTimeout: defaultEvaluatorTimeout,
		},
		registry: reg,
	}
	for _, opt := range opts {
		opt(&d.core)
	}
	return d
}

// Dispatch evaluates one event against all subscribed assistance types.
// Per-pair failures are contained; only a store outage is returned, so the
// caller can leave the event uncommitted and retry with backoff.
func (d *Reactive) Dispatch(ctx context.Context, event domain.ActivityEvent) error {
	// Assisted statements are the backbone's own feedback echoed by the
	// learning platform; evaluating them would loop.
	if event.Verb == domain.VerbAssisted {
		return nil
	}

	recordEventDispatched(event.Verb)

	for _, binding := range d.registry.FindSubscribed(event.Verb) {
		reactive := binding.Reactive
		evaluate := func(evalCtx context.Context, state domain.LearnerAssistanceState) (domain.LearnerAssistanceState, *domain.AssistanceDecision, error) {
			return reactive.OnEvent(evalCtx, event, state)
		}
		if err := d.core.processPair(ctx, binding.Type.ID, event.LearnerID, event.Timestamp.UTC(), evaluate); err != nil {
			return err
		}
	}
	return nil
}
