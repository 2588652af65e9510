// Package delivery deduplicates assistance decisions and hands them to the
// outbound channels.
package delivery

import (
	"context"
	"log"
	"time"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
)

// Channel is an outbound assistance transport.
type Channel interface {
	Name() string
	Publish(ctx context.Context, decision domain.AssistanceDecision) error
}

// AuditLog records delivered messages for later inspection.
type AuditLog interface {
	Record(ctx context.Context, decision domain.AssistanceDecision, deliveredAt time.Time) error
}

// Option configures optional pipeline behaviour.
type Option func(*Pipeline)

// WithLogger overrides the logger used to report delivery outcomes.
func WithLogger(logger *log.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithAuditLog attaches an audit log for delivered messages.
func WithAuditLog(audit AuditLog) Option {
	return func(p *Pipeline) {
		p.audit = audit
	}
}

// Pipeline applies the cooldown dedup policy and fans deliveries out to the
// configured channels. Delivery is fire-and-forget: transport failures are
// reported and never roll back committed state.
type Pipeline struct {
	channels []Channel
	audit    AuditLog
	cooldown time.Duration
	logger   *log.Logger
}

// NewPipeline constructs a Pipeline with the given cooldown window.
func NewPipeline(cooldown time.Duration, channels []Channel, opts ...Option) *Pipeline {
	p := &Pipeline{
		channels: channels,
		cooldown: cooldown,
		logger:   log.New(log.Writer(), "[delivery] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithinCooldown reports whether delivering the decision now would duplicate
// a delivery with the same suppression key inside the cooldown window,
// judged against the pair's committed state.
func (p *Pipeline) WithinCooldown(state domain.LearnerAssistanceState, decision *domain.AssistanceDecision, now time.Time) bool {
	if decision == nil {
		return false
	}
	if state.LastDeliveredAt.IsZero() || state.LastSuppressionKey != decision.SuppressionKey {
		return false
	}
	return now.Sub(state.LastDeliveredAt) < p.cooldown
}

// Suppress records a decision dropped by the cooldown policy. Not an error.
func (p *Pipeline) Suppress(decision domain.AssistanceDecision) {
	p.logger.Printf("suppressed duplicate assistance (type=%s, learner=%s, key=%s)",
		decision.AssistanceTypeID, decision.LearnerID, decision.SuppressionKey)
	recordSuppressed(decision.AssistanceTypeID)
}

// Deliver publishes the decision to every channel. Failures are reported per
// channel and do not abort the remaining channels.
func (p *Pipeline) Deliver(ctx context.Context, decision domain.AssistanceDecision) {
	now := time.Now().UTC()
	delivered := false

	for _, channel := range p.channels {
		if err := channel.Publish(ctx, decision); err != nil {
			p.logger.Printf("delivery failure (channel=%s, type=%s, learner=%s): %v",
				channel.Name(), decision.AssistanceTypeID, decision.LearnerID, err)
			recordDeliveryFailure(decision.AssistanceTypeID, channel.Name())
			continue
		}
		delivered = true
	}

	if delivered {
		recordDelivered(decision.AssistanceTypeID, now)
	}

	if p.audit != nil {
		if err := p.audit.Record(ctx, decision, now); err != nil {
			p.logger.Printf("audit log failure (type=%s, learner=%s): %v",
				decision.AssistanceTypeID, decision.LearnerID, err)
		}
	}
}
