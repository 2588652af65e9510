package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
)

const (
	// BroadcastChannel receives every assistance message.
	BroadcastChannel = "assistance.broadcast"
	// learnerChannelPrefix scopes per-learner subscriptions, so a
	// learner-facing surface can subscribe to assistance.learner.<id>.
	learnerChannelPrefix = "assistance.learner."
)

// messageEnvelope is the wire shape published to Redis subscribers.
type messageEnvelope struct {
	AssistanceTypeID string         `json:"assistance_type_id"`
	LearnerID        string         `json:"learner_id"`
	TemplateKey      string         `json:"template_key"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	SuppressionKey   string         `json:"suppression_key,omitempty"`
	IssuedAt         time.Time      `json:"issued_at"`
}

// RedisChannel pushes assistance messages over Redis Pub/Sub for real-time
// learner-facing surfaces.
type RedisChannel struct {
	client *redis.Client
}

// NewRedisChannel constructs a RedisChannel on an existing client.
func NewRedisChannel(client *redis.Client) *RedisChannel {
	return &RedisChannel{client: client}
}

// Name implements Channel.
func (c *RedisChannel) Name() string { return "redis" }

// Publish sends the message to the broadcast channel and to the learner's
// dedicated channel.
func (c *RedisChannel) Publish(ctx context.Context, decision domain.AssistanceDecision) error {
	payload, err := json.Marshal(messageEnvelope{
		AssistanceTypeID: decision.AssistanceTypeID,
		LearnerID:        decision.LearnerID,
		TemplateKey:      decision.TemplateKey,
		Parameters:       decision.Parameters,
		SuppressionKey:   decision.SuppressionKey,
		IssuedAt:         time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if err := c.client.Publish(ctx, BroadcastChannel, payload).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailure, err)
	}
	if err := c.client.Publish(ctx, learnerChannelPrefix+decision.LearnerID, payload).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailure, err)
	}
	return nil
}
