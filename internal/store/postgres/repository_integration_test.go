//go:build integration
// +build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
)

func TestCompareAndSwapRoundTrip(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)

	missing, err := repo.Get(ctx, "l1", "hint-on-failure")
	require.NoError(t, err)
	require.Nil(t, missing)

	state := domain.NewLearnerAssistanceState("l1", "hint-on-failure")
	state.Cursor = time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	state.Accumulator["answers"] = 1
	require.NoError(t, repo.CompareAndSwap(ctx, &state, 0))
	require.Equal(t, int64(1), state.Version)

	loaded, err := repo.Get(ctx, "l1", "hint-on-failure")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, int64(1), loaded.Version)
	require.Equal(t, 1, loaded.AccInt("answers"))
	require.True(t, loaded.Cursor.Equal(state.Cursor))

	loaded.Accumulator["answers"] = 2
	loaded.LastDeliveredAt = time.Date(2024, time.March, 1, 10, 5, 0, 0, time.UTC)
	loaded.LastSuppressionKey = "hint-on-failure:l1:Q7"
	require.NoError(t, repo.CompareAndSwap(ctx, loaded, 1))
	require.Equal(t, int64(2), loaded.Version)

	final, err := repo.Get(ctx, "l1", "hint-on-failure")
	require.NoError(t, err)
	require.Equal(t, 2, final.AccInt("answers"))
	require.Equal(t, "hint-on-failure:l1:Q7", final.LastSuppressionKey)
	require.True(t, final.LastDeliveredAt.Equal(loaded.LastDeliveredAt))
}

func TestCompareAndSwapDetectsConflicts(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)

	state := domain.NewLearnerAssistanceState("l1", "greeting")
	require.NoError(t, repo.CompareAndSwap(ctx, &state, 0))

	// Second insert against the same pair loses.
	duplicate := domain.NewLearnerAssistanceState("l1", "greeting")
	require.ErrorIs(t, repo.CompareAndSwap(ctx, &duplicate, 0), domain.ErrVersionConflict)

	// Stale-version update loses.
	stale := domain.NewLearnerAssistanceState("l1", "greeting")
	require.ErrorIs(t, repo.CompareAndSwap(ctx, &stale, 7), domain.ErrVersionConflict)
}

func TestLearnerEnumeration(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)

	for _, pair := range [][2]string{{"l1", "greeting"}, {"l2", "greeting"}, {"l2", "diary-reminder"}, {"l3", "diary-reminder"}} {
		state := domain.NewLearnerAssistanceState(pair[0], pair[1])
		require.NoError(t, repo.CompareAndSwap(ctx, &state, 0))
	}

	withGreeting, err := repo.LearnersWithState(ctx, "greeting")
	require.NoError(t, err)
	require.Equal(t, []string{"l1", "l2"}, withGreeting)

	known, err := repo.KnownLearners(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"l1", "l2", "l3"}, known)
}

func TestSchedulerWatermark(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)

	_, ok, err := repo.LastFiredMinute(ctx, "diary-reminder")
	require.NoError(t, err)
	require.False(t, ok)

	minute := time.Date(2024, time.March, 1, 18, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SetLastFiredMinute(ctx, "diary-reminder", minute))

	stored, ok, err := repo.LastFiredMinute(ctx, "diary-reminder")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, stored.Equal(minute))

	// Upsert replaces the previous watermark.
	next := minute.Add(24 * time.Hour)
	require.NoError(t, repo.SetLastFiredMinute(ctx, "diary-reminder", next))

	stored, ok, err = repo.LastFiredMinute(ctx, "diary-reminder")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, stored.Equal(next))
}

func TestDeliveryLogRecord(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	audit := NewDeliveryLog(pool)
	decision := domain.AssistanceDecision{
		AssistanceTypeID: "hint-on-failure",
		LearnerID:        "l1",
		TemplateKey:      "assistance.hint_on_failure.message",
		Parameters:       map[string]any{"object_id": "Q7"},
		SuppressionKey:   "hint-on-failure:l1:Q7",
	}

	require.NoError(t, audit.Record(ctx, decision, time.Now().UTC()))

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM assistance_delivery_log WHERE learner_id='l1'`).Scan(&count))
	require.Equal(t, 1, count)
}

func setupPostgres(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("assistance"),
		postgrescontainer.WithUsername("backbone"),
		postgrescontainer.WithPassword("backbone"),
	)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
	return pool, cleanup
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	migrationsPath := resolvePath(t, "../../../db/postgres/migrations")
	files, err := filepath.Glob(filepath.Join(migrationsPath, "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, file := range files {
		content, readErr := os.ReadFile(file)
		require.NoErrorf(t, readErr, "read migration %s", file)
		_, execErr := pool.Exec(ctx, string(content))
		require.NoErrorf(t, execErr, "execute migration %s", file)
	}
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}
