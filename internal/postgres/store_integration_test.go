//go:build integration

// internal/postgres/store_integration_test.go
package postgres

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"repo-cadence-collector/internal/model"
)

func setupTestSink(ctx context.Context, t *testing.T) (*Sink, func()) {
	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		tcpostgres.WithDatabase("test-db"),
		tcpostgres.WithUsername("user"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink, err := Connect(ctx, connStr, "../../migrations", logger)
	require.NoError(t, err)

	teardown := func() {
		sink.Close()
		require.NoError(t, pgContainer.Terminate(ctx))
	}
	return sink, teardown
}

func TestSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	sink, teardown := setupTestSink(ctx, t)
	defer teardown()

	avg := 12.5
	rec := &model.RepositoryRecord{
		Owner:                  "test-owner",
		Name:                   "test-repo",
		FullName:               "test-owner/test-repo",
		ReleaseType:            model.Rapid,
		Stars:                  500,
		Forks:                  80,
		TotalReleases:          30,
		AvgReleaseIntervalDays: &avg,
		ContributorCount:       25,
		DistinctReleasesCount:  30,
		CollectedAt:            time.Now().UTC(),
	}

	// Insert, then upsert with changed popularity; one row must remain.
	require.NoError(t, sink.UpsertRepository(ctx, rec))
	rec.Stars = 600
	require.NoError(t, sink.UpsertRepository(ctx, rec))

	var stars, count int
	row := sink.pool.QueryRow(ctx, `SELECT stargazer_count, (SELECT count(*) FROM repositories) FROM repositories WHERE full_name = $1`, rec.FullName)
	require.NoError(t, row.Scan(&stars, &count))
	assert.Equal(t, 600, stars)
	assert.Equal(t, 1, count)

	metrics := map[string]model.MetricValue{
		"bugs":         model.IntMetric(4),
		"coverage":     model.PercentMetric(77.2),
		"alert_status": model.StatusMetric("OK"),
	}
	require.NoError(t, sink.InsertMetrics(ctx, rec.FullName, metrics))

	// Re-inserting refreshes in place.
	metrics["bugs"] = model.IntMetric(2)
	require.NoError(t, sink.InsertMetrics(ctx, rec.FullName, metrics))

	var metricRows int
	var bugs string
	row = sink.pool.QueryRow(ctx, `SELECT count(*), (SELECT value FROM scan_metrics WHERE repository_full_name = $1 AND metric = 'bugs') FROM scan_metrics WHERE repository_full_name = $1`, rec.FullName)
	require.NoError(t, row.Scan(&metricRows, &bugs))
	assert.Equal(t, 3, metricRows)
	assert.Equal(t, "2", bugs)
}
