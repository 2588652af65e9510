// Package registry holds the configured assistance types and their bound
// evaluator implementations.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
	"github.com/VerDatAs/tud-assistance-backbone/internal/evaluator"
)

// Binding pairs an assistance type descriptor with its evaluator
// implementation. The Type field is a snapshot taken at lookup time; the
// enabled flag it carries reflects the registry state of that moment.
type Binding struct {
	Type      domain.AssistanceType
	Reactive  evaluator.Reactive
	Scheduled evaluator.Scheduled
	Schedule  cron.Schedule
}

// MatchesMinute reports whether the binding's cron expression covers the
// given minute. The minute is truncated before matching.
func (b Binding) MatchesMinute(minute time.Time) bool {
	if b.Schedule == nil {
		return false
	}
	minute = minute.Truncate(time.Minute)
	return b.Schedule.Next(minute.Add(-time.Minute)).Equal(minute)
}

type entry struct {
	descriptor domain.AssistanceType
	reactive   evaluator.Reactive
	scheduled  evaluator.Scheduled
	schedule   cron.Schedule
	enabled    bool
}

// Registry is the process-scoped set of assistance types. Registration
// happens at startup; afterwards only the enabled flags mutate, guarded by a
// single read/write lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register binds an evaluator implementation to an assistance type
// descriptor. The implementation must satisfy the capability contract implied
// by the descriptor: a Reactive for verb subscriptions, a Scheduled for a
// cron expression. A single implementation may provide both.
func (r *Registry) Register(descriptor domain.AssistanceType, impl any) error {
	if descriptor.ID == "" {
		return fmt.Errorf("assistance type id must not be empty")
	}

	reactive, _ := impl.(evaluator.Reactive)
	scheduled, _ := impl.(evaluator.Scheduled)

	if len(descriptor.Subscriptions) > 0 && reactive == nil {
		return fmt.Errorf("assistance type %s subscribes to verbs but %T does not implement the reactive contract", descriptor.ID, impl)
	}
	if len(descriptor.Subscriptions) == 0 && descriptor.Schedule == "" {
		return fmt.Errorf("assistance type %s has neither verb subscriptions nor a schedule", descriptor.ID)
	}

	var schedule cron.Schedule
	if descriptor.Schedule != "" {
		if scheduled == nil {
			return fmt.Errorf("assistance type %s has a schedule but %T does not implement the scheduled contract", descriptor.ID, impl)
		}
		parsed, err := cron.ParseStandard(descriptor.Schedule)
		if err != nil {
			return fmt.Errorf("assistance type %s: invalid cron expression %q: %w", descriptor.ID, descriptor.Schedule, err)
		}
		schedule = parsed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[descriptor.ID]; exists {
		return fmt.Errorf("assistance type %s already registered", descriptor.ID)
	}

	r.entries[descriptor.ID] = &entry{
		descriptor: descriptor,
		reactive:   reactive,
		scheduled:  scheduled,
		schedule:   schedule,
		enabled:    true,
	}
	r.order = append(r.order, descriptor.ID)
	return nil
}

// FindSubscribed returns the enabled assistance types subscribed to the verb.
func (r *Registry) FindSubscribed(verb domain.Verb) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bindings := make([]Binding, 0)
	for _, id := range r.order {
		e := r.entries[id]
		if !e.enabled || e.reactive == nil || !e.descriptor.Subscribed(verb) {
			continue
		}
		bindings = append(bindings, e.binding())
	}
	return bindings
}

// ScheduledBindings returns every enabled assistance type carrying a cron
// schedule. The caller decides which minutes each schedule covers.
func (r *Registry) ScheduledBindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bindings := make([]Binding, 0)
	for _, id := range r.order {
		e := r.entries[id]
		if !e.enabled || e.scheduled == nil || e.schedule == nil {
			continue
		}
		bindings = append(bindings, e.binding())
	}
	return bindings
}

// FindScheduled returns the enabled scheduled types whose cron expression
// matches the given minute.
func (r *Registry) FindScheduled(minute time.Time) []Binding {
	matched := make([]Binding, 0)
	for _, b := range r.ScheduledBindings() {
		if b.MatchesMinute(minute) {
			matched = append(matched, b)
		}
	}
	return matched
}

// SetEnabled flips the enabled flag for an assistance type. The change takes
// effect on the next dispatch cycle; in-flight evaluations are not cancelled.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownAssistanceType, id)
	}
	e.enabled = enabled
	return nil
}

// List returns every registered descriptor in registration order with the
// current enabled flag.
func (r *Registry) List() []domain.AssistanceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.AssistanceType, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		descriptor := e.descriptor
		descriptor.Enabled = e.enabled
		out = append(out, descriptor)
	}
	return out
}

func (e *entry) binding() Binding {
	descriptor := e.descriptor
	descriptor.Enabled = e.enabled
	return Binding{
		Type:      descriptor,
		Reactive:  e.reactive,
		Scheduled: e.scheduled,
		Schedule:  e.schedule,
	}
}
