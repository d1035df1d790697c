// internal/postgres/store.go
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"repo-cadence-collector/internal/model"
)

// Sink mirrors accepted records into Postgres. It is a secondary view of
// the dataset file: upserts only, keyed by full_name, never deletes.
type Sink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect opens a pool and applies pending migrations.
func Connect(ctx context.Context, dbURL, migrationsDir string, logger *slog.Logger) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := runMigrations(dbURL, migrationsDir); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("database connection established")
	return &Sink{pool: pool, logger: logger}, nil
}

func runMigrations(dbURL, dir string) error {
	m, err := migrate.New("file://"+dir, dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *Sink) Close() {
	s.pool.Close()
}

const upsertRepositorySQL = `
INSERT INTO repositories (
	full_name, owner, name, release_type, language,
	stargazer_count, fork_count, total_releases,
	avg_release_interval_days, collaborator_count,
	distinct_releases_count, collected_at,
	sonarqube_analyzed, sonarqube_analyzed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (full_name) DO UPDATE SET
	release_type = EXCLUDED.release_type,
	language = EXCLUDED.language,
	stargazer_count = EXCLUDED.stargazer_count,
	fork_count = EXCLUDED.fork_count,
	total_releases = EXCLUDED.total_releases,
	avg_release_interval_days = EXCLUDED.avg_release_interval_days,
	collaborator_count = EXCLUDED.collaborator_count,
	distinct_releases_count = EXCLUDED.distinct_releases_count,
	collected_at = EXCLUDED.collected_at,
	sonarqube_analyzed = EXCLUDED.sonarqube_analyzed,
	sonarqube_analyzed_at = EXCLUDED.sonarqube_analyzed_at`

// UpsertRepository writes one record, inserting or refreshing by full_name.
func (s *Sink) UpsertRepository(ctx context.Context, rec *model.RepositoryRecord) error {
	_, err := s.pool.Exec(ctx, upsertRepositorySQL,
		rec.FullName, rec.Owner, rec.Name, string(rec.ReleaseType), rec.Language,
		rec.Stars, rec.Forks, rec.TotalReleases,
		rec.AvgReleaseIntervalDays, rec.ContributorCount,
		rec.DistinctReleasesCount, rec.CollectedAt,
		rec.Analyzed, rec.AnalyzedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert repository %s: %w", rec.FullName, err)
	}
	return nil
}

const insertMetricSQL = `
INSERT INTO scan_metrics (repository_full_name, metric, kind, value)
VALUES ($1,$2,$3,$4)
ON CONFLICT (repository_full_name, metric) DO UPDATE SET
	kind = EXCLUDED.kind,
	value = EXCLUDED.value,
	recorded_at = now()`

// InsertMetrics stores the normalized metric rows for one repository. Runs
// in a transaction so a partial metric set is never visible.
func (s *Sink) InsertMetrics(ctx context.Context, fullName string, metrics map[string]model.MetricValue) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // no-op once committed

	for metric, value := range metrics {
		_, err := tx.Exec(ctx, insertMetricSQL, fullName, metric, string(value.Kind), value.String())
		if err != nil {
			return fmt.Errorf("insert metric %s for %s: %w", metric, fullName, err)
		}
	}
	return tx.Commit(ctx)
}

// SyncSnapshot pushes every record of a snapshot into the sink. Used to
// backfill a fresh database from an existing dataset file.
func (s *Sink) SyncSnapshot(ctx context.Context, snap *model.DatasetSnapshot) error {
	for _, rec := range snap.Repositories {
		if err := s.UpsertRepository(ctx, rec); err != nil {
			return err
		}
		if len(rec.Metrics) > 0 {
			if err := s.InsertMetrics(ctx, rec.FullName, rec.Metrics); err != nil {
				return err
			}
		}
	}
	s.logger.Info("snapshot synced to database", slog.Int("repositories", len(snap.Repositories)))
	return nil
}
