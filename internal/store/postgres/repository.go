// Package postgres provides the Postgres-backed learner state store.
//
// State is partitioned one row per (learner, assistance type) pair and
// written through single-row compare-and-swap on a version column, so the
// store stays correct without multi-row transactions.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
	"github.com/VerDatAs/tud-assistance-backbone/internal/observability"
)

// Repository implements store.StateStore and store.SchedulerStore on pgx.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const stateColumns = `learner_id, assistance_type_id, cursor_ts, accumulator, last_delivered_at, last_suppression_key, version, updated_at`

// Get returns the stored state or nil when the pair has no record.
func (r *Repository) Get(ctx context.Context, learnerID, assistanceTypeID string) (*domain.LearnerAssistanceState, error) {
	query := fmt.Sprintf(`SELECT %s FROM learner_assistance_state WHERE learner_id=$1 AND assistance_type_id=$2`, stateColumns)

	row := r.pool.QueryRow(ctx, query, learnerID, assistanceTypeID)
	state, err := scanState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr(err)
	}
	return state, nil
}

// CompareAndSwap inserts (expectedVersion zero) or updates the row guarded by
// the version column. Exactly one writer succeeds per version.
func (r *Repository) CompareAndSwap(ctx context.Context, state *domain.LearnerAssistanceState, expectedVersion int64) error {
	accumulator, err := json.Marshal(state.Accumulator)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	if expectedVersion == 0 {
		const insert = `INSERT INTO learner_assistance_state
            (learner_id, assistance_type_id, cursor_ts, accumulator, last_delivered_at, last_suppression_key, version, updated_at)
            VALUES ($1,$2,$3,$4,$5,$6,1,$7)
            ON CONFLICT (learner_id, assistance_type_id) DO NOTHING`

		tag, err := r.pool.Exec(ctx, insert,
			state.LearnerID,
			state.AssistanceTypeID,
			nullIfZeroTime(state.Cursor),
			accumulator,
			nullIfZeroTime(state.LastDeliveredAt),
			nullIfEmpty(state.LastSuppressionKey),
			now,
		)
		if err != nil {
			return storeErr(err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrVersionConflict
		}
		state.Version = 1
		state.UpdatedAt = now
		observability.RecordStatementProcessed(state.Cursor)
		return nil
	}

	const update = `UPDATE learner_assistance_state
        SET cursor_ts=$3, accumulator=$4, last_delivered_at=$5, last_suppression_key=$6, version=version+1, updated_at=$7
        WHERE learner_id=$1 AND assistance_type_id=$2 AND version=$8`

	tag, err := r.pool.Exec(ctx, update,
		state.LearnerID,
		state.AssistanceTypeID,
		nullIfZeroTime(state.Cursor),
		accumulator,
		nullIfZeroTime(state.LastDeliveredAt),
		nullIfEmpty(state.LastSuppressionKey),
		now,
		expectedVersion,
	)
	if err != nil {
		return storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	state.Version = expectedVersion + 1
	state.UpdatedAt = now
	observability.RecordStatementProcessed(state.Cursor)
	return nil
}

// LearnersWithState enumerates learners holding state for the given type.
func (r *Repository) LearnersWithState(ctx context.Context, assistanceTypeID string) ([]string, error) {
	const query = `SELECT learner_id FROM learner_assistance_state WHERE assistance_type_id=$1 ORDER BY learner_id`
	return r.queryLearners(ctx, query, assistanceTypeID)
}

// KnownLearners enumerates every learner present in the store.
func (r *Repository) KnownLearners(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT learner_id FROM learner_assistance_state ORDER BY learner_id`
	return r.queryLearners(ctx, query)
}

func (r *Repository) queryLearners(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	learners := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr(err)
		}
		learners = append(learners, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return learners, nil
}

// LastFiredMinute reads the scheduler watermark for the given type.
func (r *Repository) LastFiredMinute(ctx context.Context, assistanceTypeID string) (time.Time, bool, error) {
	const query = `SELECT last_fired_minute FROM scheduler_state WHERE assistance_type_id=$1`

	var minute time.Time
	if err := r.pool.QueryRow(ctx, query, assistanceTypeID).Scan(&minute); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, storeErr(err)
	}
	return minute.UTC(), true, nil
}

// SetLastFiredMinute upserts the scheduler watermark.
func (r *Repository) SetLastFiredMinute(ctx context.Context, assistanceTypeID string, minute time.Time) error {
	const stmt = `INSERT INTO scheduler_state (assistance_type_id, last_fired_minute, updated_at)
        VALUES ($1,$2,$3)
        ON CONFLICT (assistance_type_id) DO UPDATE SET last_fired_minute=EXCLUDED.last_fired_minute, updated_at=EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, stmt, assistanceTypeID, minute.UTC().Truncate(time.Minute), time.Now().UTC())
	if err != nil {
		return storeErr(err)
	}
	return nil
}

func scanState(row pgx.Row) (*domain.LearnerAssistanceState, error) {
	var state domain.LearnerAssistanceState
	var cursor, lastDelivered *time.Time
	var suppressionKey *string
	var accumulator []byte

	if err := row.Scan(
		&state.LearnerID,
		&state.AssistanceTypeID,
		&cursor,
		&accumulator,
		&lastDelivered,
		&suppressionKey,
		&state.Version,
		&state.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if cursor != nil {
		state.Cursor = cursor.UTC()
	}
	if lastDelivered != nil {
		state.LastDeliveredAt = lastDelivered.UTC()
	}
	if suppressionKey != nil {
		state.LastSuppressionKey = *suppressionKey
	}
	if len(accumulator) > 0 {
		if err := json.Unmarshal(accumulator, &state.Accumulator); err != nil {
			return nil, err
		}
	}
	if state.Accumulator == nil {
		state.Accumulator = make(map[string]any)
	}
	return &state, nil
}

// storeErr marks infrastructure failures so dispatchers can distinguish an
// unreachable store from per-pair conflicts and back off instead of dropping.
func storeErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

func nullIfZeroTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC()
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
