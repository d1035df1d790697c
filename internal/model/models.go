// internal/model/models.go
package model

import (
	"fmt"
	"time"
)

// Classification is the release cadence category derived from the average
// interval between releases.
type Classification string

const (
	Rapid      Classification = "rapid"
	Slow       Classification = "slow"
	Ineligible Classification = "unclassified"
)

// RepositorySummary is what a search hit gives us: identity plus popularity
// counters. Immutable once fetched.
type RepositorySummary struct {
	Owner    string  `json:"owner"`
	Name     string  `json:"name"`
	Stars    int     `json:"stargazer_count"`
	Forks    int     `json:"fork_count"`
	Language *string `json:"language"`
}

// FullName returns the canonical "owner/name" identity of the repository.
func (s RepositorySummary) FullName() string {
	return fmt.Sprintf("%s/%s", s.Owner, s.Name)
}

// RepositoryDetails is the record-shaped detail view of one repository.
type RepositoryDetails struct {
	Summary       RepositorySummary
	TotalReleases int
}

// ReleaseEvent is a single release's creation timestamp, the ordering key
// for interval computation. Never mutated.
type ReleaseEvent struct {
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// ReleaseClassification is the derived cadence result. AvgIntervalDays is
// nil when the repository is ineligible for classification.
type ReleaseClassification struct {
	AvgIntervalDays *float64
	Class           Classification
}

// RepositoryRecord is the durable unit persisted in the dataset. FullName is
// the primary key and must be unique within a snapshot.
type RepositoryRecord struct {
	Owner                  string                 `json:"owner"`
	Name                   string                 `json:"name"`
	FullName               string                 `json:"full_name"`
	ReleaseType            Classification         `json:"release_type"`
	Stars                  int                    `json:"stargazer_count"`
	Forks                  int                    `json:"fork_count"`
	Language               *string                `json:"language"`
	TotalReleases          int                    `json:"total_releases"`
	AvgReleaseIntervalDays *float64               `json:"avg_release_interval_days"`
	ContributorCount       int                    `json:"collaborator_count"`
	DistinctReleasesCount  int                    `json:"distinct_releases_count"`
	CollectedAt            time.Time              `json:"collected_at"`
	Analyzed               bool                   `json:"sonarqube_analyzed"`
	AnalyzedAt             *time.Time             `json:"sonarqube_analyzed_at,omitempty"`
	Metrics                map[string]MetricValue `json:"sonarqube_metrics,omitempty"`
}

// SnapshotMetadata holds the derived counters for a snapshot. The counters
// are recomputed from the collection at every save and are never trusted as
// independently stored truth.
type SnapshotMetadata struct {
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	Total       int       `json:"total_repositories"`
	RapidCount  int       `json:"rapid_releases_count"`
	SlowCount   int       `json:"slow_releases_count"`
}

// DatasetSnapshot is the full keyed collection plus its derived counters.
type DatasetSnapshot struct {
	Metadata     SnapshotMetadata    `json:"metadata"`
	Repositories []*RepositoryRecord `json:"repositories"`
}

// Find returns the record with the given full name, or nil.
func (s *DatasetSnapshot) Find(fullName string) *RepositoryRecord {
	for _, r := range s.Repositories {
		if r.FullName == fullName {
			return r
		}
	}
	return nil
}

// RecomputeCounters rederives the metadata counters from the live collection.
func (s *DatasetSnapshot) RecomputeCounters(now time.Time) {
	s.Metadata.LastUpdated = now
	s.Metadata.Total = len(s.Repositories)
	s.Metadata.RapidCount = 0
	s.Metadata.SlowCount = 0
	for _, r := range s.Repositories {
		switch r.ReleaseType {
		case Rapid:
			s.Metadata.RapidCount++
		case Slow:
			s.Metadata.SlowCount++
		}
	}
}

// NewSnapshot returns an empty snapshot stamped with now.
func NewSnapshot(now time.Time) *DatasetSnapshot {
	return &DatasetSnapshot{
		Metadata: SnapshotMetadata{
			CreatedAt:   now,
			LastUpdated: now,
		},
	}
}
