// internal/analysis/analyzer.go
package analysis

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"repo-cadence-collector/internal/dataset"
	apperrors "repo-cadence-collector/internal/errors"
	"repo-cadence-collector/internal/model"
	"repo-cadence-collector/internal/projectkey"
)

// Cloner checks out a repository into a worker-private directory.
type Cloner interface {
	Clone(ctx context.Context, owner, name string, workerID int) (string, error)
	Cleanup(dir string)
}

// Scanner submits a source tree for analysis under a project key.
type Scanner interface {
	Scan(ctx context.Context, projectKey, sourceDir string) error
}

// Oracle exposes the measurement side of the scanning service.
type Oracle interface {
	EnsureProject(ctx context.Context, key, name string) error
	PollMeasures(ctx context.Context, projectKey string, interval, timeout time.Duration) (map[string]model.MetricValue, error)
}

// Config bounds one analysis batch.
type Config struct {
	Workers      int
	Class        model.Classification // empty analyzes all classes
	Limit        int
	SkipAnalyzed bool
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Result is what a worker hands back to the coordinator for one repository.
type result struct {
	fullName string
	metrics  map[string]model.MetricValue
	err      error
}

// Report summarizes a finished analysis batch.
type Report struct {
	Selected int               `json:"selected"`
	Analyzed int               `json:"analyzed"`
	Skipped  map[string]string `json:"skipped,omitempty"`
}

// Analyzer runs the clone → scan → poll cycle over a bounded worker pool.
// Workers never write to the store: results funnel through a single
// coordinator goroutine that merges and saves.
type Analyzer struct {
	store   *dataset.Store
	cloner  Cloner
	scanner Scanner
	oracle  Oracle
	cfg     Config
	logger  *slog.Logger
}

func New(store *dataset.Store, cloner Cloner, scanner Scanner, oracle Oracle, cfg Config, logger *slog.Logger) *Analyzer {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Minute
	}
	return &Analyzer{
		store:   store,
		cloner:  cloner,
		scanner: scanner,
		oracle:  oracle,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run analyzes the selected slice of the dataset. Per-repository failures
// are recorded and skipped; the batch keeps going.
func (a *Analyzer) Run(ctx context.Context) (*Report, error) {
	snap := a.store.Load()
	selected := dataset.Select(snap, dataset.SelectOptions{
		Class:        a.cfg.Class,
		SkipAnalyzed: a.cfg.SkipAnalyzed,
		Limit:        a.cfg.Limit,
	})

	report := &Report{Selected: len(selected), Skipped: make(map[string]string)}
	if len(selected) == 0 {
		a.logger.Info("nothing to analyze")
		return report, nil
	}

	a.logger.Info("starting analysis batch",
		slog.Int("repositories", len(selected)),
		slog.Int("workers", a.cfg.Workers))

	results := make(chan result)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for res := range results {
			if res.err != nil {
				report.Skipped[res.fullName] = res.err.Error()
				a.logger.Warn("analysis skipped",
					slog.String("repo", res.fullName), slog.Any("error", res.err))
				continue
			}
			if outcome := a.store.MergeAnalysis(snap, res.fullName, res.metrics); outcome == dataset.NotFound {
				report.Skipped[res.fullName] = "record vanished from snapshot"
				continue
			}
			if err := a.store.Save(snap); err != nil {
				a.logger.Error("failed to save snapshot", slog.Any("error", err))
				continue
			}
			report.Analyzed++
		}
	}()

	var nextWorker atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)

	for _, rec := range selected {
		rec := rec
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			workerID := int(nextWorker.Add(1))
			metrics, err := a.analyzeOne(gctx, rec, workerID)
			select {
			case results <- result{fullName: rec.FullName, metrics: metrics, err: err}:
			case <-gctx.Done():
			}
			return nil
		})
	}

	err := g.Wait()
	close(results)
	<-done

	if err != nil && !errors.Is(err, context.Canceled) {
		return report, err
	}

	a.logger.Info("analysis batch finished",
		slog.Int("analyzed", report.Analyzed),
		slog.Int("skipped", len(report.Skipped)))
	return report, ctx.Err()
}

// analyzeOne runs the full cycle for a single repository inside one worker.
func (a *Analyzer) analyzeOne(ctx context.Context, rec *model.RepositoryRecord, workerID int) (map[string]model.MetricValue, error) {
	key := projectkey.Sanitize(rec.Owner, rec.Name)
	if err := projectkey.ValidationError(key); err != nil {
		return nil, err
	}
	logger := a.logger.With(slog.String("repo", rec.FullName), slog.Int("worker", workerID))

	dir, err := a.cloner.Clone(ctx, rec.Owner, rec.Name, workerID)
	if err != nil {
		var limit *apperrors.ResourceLimitError
		if errors.As(err, &limit) {
			logger.Warn("repository too large to analyze", slog.Any("error", err))
		}
		return nil, err
	}
	defer a.cloner.Cleanup(dir)

	if err := a.oracle.EnsureProject(ctx, key, rec.FullName); err != nil {
		return nil, err
	}
	if err := a.scanner.Scan(ctx, key, dir); err != nil {
		return nil, err
	}

	metrics, err := a.oracle.PollMeasures(ctx, key, a.cfg.PollInterval, a.cfg.PollTimeout)
	if err != nil {
		return nil, err
	}
	logger.Info("analysis complete", slog.Int("metrics", len(metrics)))
	return metrics, nil
}
