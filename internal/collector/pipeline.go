// internal/collector/pipeline.go
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"repo-cadence-collector/internal/classify"
	"repo-cadence-collector/internal/dataset"
	apperrors "repo-cadence-collector/internal/errors"
	"repo-cadence-collector/internal/model"
)

// CatalogClient is the slice of the hosting-API client the pipeline needs.
type CatalogClient interface {
	Search(ctx context.Context, query string, maxResults int) ([]model.RepositorySummary, error)
	GetDetails(ctx context.Context, owner, name string) (*model.RepositoryDetails, error)
	GetAllReleases(ctx context.Context, owner, name string) ([]model.ReleaseEvent, error)
	ContributorCount(ctx context.Context, owner, name string) (int, error)
}

// Sink receives accepted records in addition to the dataset file. It is
// optional; a nil sink is skipped.
type Sink interface {
	UpsertRepository(ctx context.Context, rec *model.RepositoryRecord) error
}

// Thresholds are the numeric admission gates a candidate must clear. Every
// gate is exclusive: a candidate sitting exactly on a threshold is rejected.
type Thresholds struct {
	MinStars        int
	MinForks        int
	MinReleases     int
	MinContributors int
}

// DefaultThresholds mirror the values the collection runs have always used.
var DefaultThresholds = Thresholds{
	MinStars:        50,
	MinForks:        0,
	MinReleases:     19,
	MinContributors: 19,
}

// Targets bound how many repositories of each class a run tries to collect.
type Targets struct {
	Rapid int
	Slow  int
}

func (t Targets) met(rapid, slow int) bool {
	return rapid >= t.Rapid && slow >= t.Slow
}

// Config drives one collection run. Variation between runs is data here,
// never a separate code path.
type Config struct {
	Queries     []string
	Thresholds  Thresholds
	Targets     Targets
	MaxSearch   int           // per-query search budget
	SearchPause time.Duration // politeness pause between candidates
}

// Rejection explains why a candidate did not become a record.
type Rejection struct {
	FullName string `json:"full_name"`
	Reason   string `json:"reason"`
}

// Report summarizes a finished collection run.
type Report struct {
	RunID      uuid.UUID   `json:"run_id"`
	Processed  int         `json:"processed"`
	Accepted   int         `json:"accepted"`
	Rejected   int         `json:"rejected"`
	Failed     int         `json:"failed"`
	Rapid      int         `json:"rapid"`
	Slow       int         `json:"slow"`
	Rejections []Rejection `json:"rejections,omitempty"`
}

// Pipeline turns search candidates into dataset records.
type Pipeline struct {
	client CatalogClient
	store  *dataset.Store
	sink   Sink
	cfg    Config
	logger *slog.Logger
}

func New(client CatalogClient, store *dataset.Store, sink Sink, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds
	}
	return &Pipeline{
		client: client,
		store:  store,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
	}
}

// Run executes the collection: search each query, admit candidates through
// the gates, classify, and persist. It stops when the per-class targets are
// met or every query's budget is spent.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.New()}
	snap := p.store.Load()
	rapid := snap.Metadata.RapidCount
	slow := snap.Metadata.SlowCount

	logger := p.logger.With(slog.String("run_id", report.RunID.String()))
	logger.Info("starting collection run",
		slog.Int("have_rapid", rapid), slog.Int("have_slow", slow),
		slog.Int("want_rapid", p.cfg.Targets.Rapid), slog.Int("want_slow", p.cfg.Targets.Slow))

	for _, query := range p.cfg.Queries {
		if p.cfg.Targets.met(rapid, slow) {
			break
		}

		candidates, err := p.client.Search(ctx, query, p.cfg.MaxSearch)
		if err != nil {
			if len(candidates) == 0 {
				logger.Error("search failed", slog.String("query", query), slog.Any("error", err))
				continue
			}
			logger.Warn("search returned partial results",
				slog.String("query", query), slog.Int("count", len(candidates)), slog.Any("error", err))
		}

		for _, candidate := range candidates {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			if p.cfg.Targets.met(rapid, slow) {
				break
			}

			fullName := candidate.FullName()
			if snap.Find(fullName) != nil {
				continue // already collected
			}

			report.Processed++
			rec, reason, err := p.evaluate(ctx, candidate)
			switch {
			case err != nil:
				report.Failed++
				report.Rejections = append(report.Rejections, Rejection{FullName: fullName, Reason: err.Error()})
				logger.Warn("candidate failed", slog.String("repo", fullName), slog.Any("error", err))
			case rec == nil:
				report.Rejected++
				report.Rejections = append(report.Rejections, Rejection{FullName: fullName, Reason: reason})
				logger.Info("candidate rejected", slog.String("repo", fullName), slog.String("reason", reason))
			default:
				if outcome := p.store.Upsert(snap, rec); outcome == dataset.AlreadyExists {
					continue
				}
				report.Accepted++
				switch rec.ReleaseType {
				case model.Rapid:
					rapid++
					report.Rapid++
				case model.Slow:
					slow++
					report.Slow++
				}
				if err := p.store.Save(snap); err != nil {
					logger.Error("failed to save snapshot", slog.Any("error", err))
				}
				if p.sink != nil {
					if err := p.sink.UpsertRepository(ctx, rec); err != nil {
						logger.Warn("sink upsert failed", slog.String("repo", fullName), slog.Any("error", err))
					}
				}
				logger.Info("candidate accepted",
					slog.String("repo", fullName),
					slog.String("class", string(rec.ReleaseType)),
					slog.Int("rapid", rapid), slog.Int("slow", slow))
			}

			if p.cfg.SearchPause > 0 {
				select {
				case <-ctx.Done():
					return report, ctx.Err()
				case <-time.After(p.cfg.SearchPause):
				}
			}
		}
	}

	logger.Info("collection run finished",
		slog.Int("processed", report.Processed),
		slog.Int("accepted", report.Accepted),
		slog.Int("rejected", report.Rejected),
		slog.Int("failed", report.Failed))
	return report, nil
}

// evaluate runs one candidate through the admission gates and classifier.
// A nil record with a reason means rejection; an error means the lookup
// itself failed.
func (p *Pipeline) evaluate(ctx context.Context, candidate model.RepositorySummary) (*model.RepositoryRecord, string, error) {
	gates := p.cfg.Thresholds

	if candidate.Stars <= gates.MinStars {
		return nil, fmt.Sprintf("stars %d below minimum %d", candidate.Stars, gates.MinStars+1), nil
	}
	if candidate.Forks <= gates.MinForks {
		return nil, fmt.Sprintf("forks %d below minimum %d", candidate.Forks, gates.MinForks+1), nil
	}

	details, err := p.client.GetDetails(ctx, candidate.Owner, candidate.Name)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, "repository no longer exists", nil
		}
		return nil, "", err
	}
	if details.TotalReleases <= gates.MinReleases {
		return nil, fmt.Sprintf("releases %d below minimum %d", details.TotalReleases, gates.MinReleases+1), nil
	}

	contributors, err := p.client.ContributorCount(ctx, candidate.Owner, candidate.Name)
	if err != nil {
		return nil, "", err
	}
	if contributors <= gates.MinContributors {
		return nil, fmt.Sprintf("contributors %d below minimum %d", contributors, gates.MinContributors+1), nil
	}

	events, err := p.client.GetAllReleases(ctx, candidate.Owner, candidate.Name)
	if err != nil {
		return nil, "", err
	}

	result := classify.Classify(events)
	if result.Class == model.Ineligible {
		return nil, "release cadence unclassifiable", nil
	}

	return &model.RepositoryRecord{
		Owner:                  candidate.Owner,
		Name:                   candidate.Name,
		FullName:               candidate.FullName(),
		ReleaseType:            result.Class,
		Stars:                  candidate.Stars,
		Forks:                  candidate.Forks,
		Language:               candidate.Language,
		TotalReleases:          details.TotalReleases,
		AvgReleaseIntervalDays: result.AvgIntervalDays,
		ContributorCount:       contributors,
		DistinctReleasesCount:  len(events),
		CollectedAt:            time.Now().UTC(),
	}, "", nil
}
