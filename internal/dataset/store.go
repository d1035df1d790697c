// internal/dataset/store.go

// Package dataset persists the keyed collection of repository records. The
// same in-memory snapshot shape is materialized from either physical
// encoding: a structured JSON document or a flat CSV file.
package dataset

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "repo-cadence-collector/internal/errors"
	"repo-cadence-collector/internal/model"
)

// Format selects the physical encoding, derived from the file extension.
type Format int

const (
	FormatJSON Format = iota
	FormatCSV
)

// UpsertOutcome reports what Upsert did. AlreadyExists is not an error.
type UpsertOutcome int

const (
	Added UpsertOutcome = iota
	AlreadyExists
)

// MergeOutcome reports what MergeAnalysis did.
type MergeOutcome int

const (
	Updated MergeOutcome = iota
	NotFound
)

// Store reads and writes dataset snapshots at a fixed path. It is not safe
// for concurrent writers; serialize all writes through one goroutine.
type Store struct {
	path   string
	format Format
	logger *slog.Logger
	now    func() time.Time
}

// New creates a store for the given path. A ".csv" extension selects the
// tabular encoding, anything else the JSON document.
func New(path string, logger *slog.Logger) *Store {
	format := FormatJSON
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		format = FormatCSV
	}
	return &Store{
		path:   path,
		format: format,
		logger: logger,
		now:    time.Now,
	}
}

// Load materializes the snapshot from disk. A missing file or one that fails
// to parse entirely yields an empty snapshot rather than an error, so one bad
// file never blocks batch recovery.
func (s *Store) Load() *model.DatasetSnapshot {
	if s.format == FormatCSV {
		return s.loadCSV()
	}
	return s.loadJSON()
}

func (s *Store) loadJSON() *model.DatasetSnapshot {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read dataset, starting empty", "path", s.path, "error", err)
		}
		return model.NewSnapshot(s.now())
	}

	var snap model.DatasetSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("Dataset is malformed, starting empty", "path", s.path, "error", err)
		return model.NewSnapshot(s.now())
	}
	return &snap
}

// Save recomputes the derived counters from the live collection and writes
// the complete snapshot. The write goes through a temp file and rename, so a
// failure leaves the prior on-disk state untouched. Two processes racing on
// the same store follow last-writer-wins.
func (s *Store) Save(snap *model.DatasetSnapshot) error {
	snap.RecomputeCounters(s.now())

	if s.format == FormatCSV {
		return s.saveCSV(snap)
	}
	return s.saveJSON(snap)
}

func (s *Store) saveJSON(snap *model.DatasetSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &apperrors.PersistenceError{Path: s.path, Err: err}
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return &apperrors.PersistenceError{Path: s.path, Err: err}
	}
	s.logger.Info("Dataset saved", "path", s.path, "records", snap.Metadata.Total)
	return nil
}

// Upsert adds rec to the snapshot unless a record with the same full name is
// already present. Identity is normalized to "owner/name" first.
func (s *Store) Upsert(snap *model.DatasetSnapshot, rec *model.RepositoryRecord) UpsertOutcome {
	if rec.FullName == "" {
		rec.FullName = rec.Owner + "/" + rec.Name
	}
	if snap.Find(rec.FullName) != nil {
		s.logger.Debug("Repository already in dataset", "full_name", rec.FullName)
		return AlreadyExists
	}
	snap.Repositories = append(snap.Repositories, rec)
	return Added
}

// MergeAnalysis attaches a metrics bag to the existing record with the given
// key, marking it analyzed in place. It never creates a record.
func (s *Store) MergeAnalysis(snap *model.DatasetSnapshot, fullName string, metrics map[string]model.MetricValue) MergeOutcome {
	rec := snap.Find(fullName)
	if rec == nil {
		return NotFound
	}
	now := s.now()
	rec.Metrics = metrics
	rec.Analyzed = true
	rec.AnalyzedAt = &now
	return Updated
}

// SelectOptions filters records for an analysis pass.
type SelectOptions struct {
	Class        model.Classification // empty selects all
	SkipAnalyzed bool
	Limit        int // zero means no limit
}

// Select returns the records matching opts, in snapshot order.
func Select(snap *model.DatasetSnapshot, opts SelectOptions) []*model.RepositoryRecord {
	var out []*model.RepositoryRecord
	for _, r := range snap.Repositories {
		if opts.Class != "" && r.ReleaseType != opts.Class {
			continue
		}
		if opts.SkipAnalyzed && r.Analyzed {
			continue
		}
		out = append(out, r)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}

// ClassStats aggregates one classification's records.
type ClassStats struct {
	Count           int     `json:"count"`
	AvgInterval     float64 `json:"avg_interval_days"`
	AvgContributors float64 `json:"avg_contributors"`
}

// Stats summarizes a snapshot for reports and the viewer API.
type Stats struct {
	Total       int        `json:"total"`
	Rapid       ClassStats `json:"rapid"`
	Slow        ClassStats `json:"slow"`
	Analyzed    int        `json:"analyzed"`
	LastUpdated time.Time  `json:"last_updated"`
}

// Statistics derives summary figures from the live collection.
func Statistics(snap *model.DatasetSnapshot) Stats {
	stats := Stats{
		Total:       len(snap.Repositories),
		LastUpdated: snap.Metadata.LastUpdated,
	}

	accumulate := func(cs *ClassStats, r *model.RepositoryRecord) {
		cs.Count++
		if r.AvgReleaseIntervalDays != nil {
			cs.AvgInterval += *r.AvgReleaseIntervalDays
		}
		cs.AvgContributors += float64(r.ContributorCount)
	}

	for _, r := range snap.Repositories {
		if r.Analyzed {
			stats.Analyzed++
		}
		switch r.ReleaseType {
		case model.Rapid:
			accumulate(&stats.Rapid, r)
		case model.Slow:
			accumulate(&stats.Slow, r)
		}
	}

	finish := func(cs *ClassStats) {
		if cs.Count > 0 {
			cs.AvgInterval /= float64(cs.Count)
			cs.AvgContributors /= float64(cs.Count)
		}
	}
	finish(&stats.Rapid)
	finish(&stats.Slow)

	return stats
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".dataset-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
