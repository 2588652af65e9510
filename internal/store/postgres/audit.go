package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
	"github.com/VerDatAs/tud-assistance-backbone/internal/observability"
)

// DeliveryLog records delivered assistance messages for auditing. Suppressed
// decisions are not recorded.
type DeliveryLog struct {
	pool *pgxpool.Pool
}

// NewDeliveryLog constructs a DeliveryLog backed by the provided pool.
func NewDeliveryLog(pool *pgxpool.Pool) *DeliveryLog {
	return &DeliveryLog{pool: pool}
}

// Record appends one delivery entry.
func (l *DeliveryLog) Record(ctx context.Context, decision domain.AssistanceDecision, deliveredAt time.Time) error {
	parameters, err := json.Marshal(decision.Parameters)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO assistance_delivery_log
        (delivery_id, assistance_type_id, learner_id, template_key, parameters, suppression_key, delivered_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err = l.pool.Exec(ctx, stmt,
		uuid.NewString(),
		decision.AssistanceTypeID,
		decision.LearnerID,
		decision.TemplateKey,
		parameters,
		nullIfEmpty(decision.SuppressionKey),
		deliveredAt.UTC(),
	)
	if err != nil {
		return storeErr(err)
	}
	observability.RecordDecisionDelivered(deliveredAt)
	return nil
}
