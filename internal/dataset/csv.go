// internal/dataset/csv.go
package dataset

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "repo-cadence-collector/internal/errors"
	"repo-cadence-collector/internal/model"
	"repo-cadence-collector/internal/projectkey"
)

// storageColumns is the declared header for the tabular encoding. Record
// fields outside this list (the metrics bag) are dropped; declared columns
// missing from a row are read as empty.
var storageColumns = []string{
	"full_name",
	"owner",
	"name",
	"release_type",
	"language",
	"stargazer_count",
	"fork_count",
	"total_releases",
	"avg_release_interval_days",
	"collaborator_count",
	"distinct_releases_count",
	"collected_at",
	"sonarqube_analyzed",
	"sonarqube_analyzed_at",
}

// ExportColumns is the fixed projection used by ExportTabular.
var ExportColumns = []string{
	"full_name",
	"owner",
	"name",
	"release_type",
	"language",
	"stargazer_count",
	"fork_count",
	"total_releases",
	"avg_release_interval_days",
	"collaborator_count",
}

// analyzedSibling maps an input CSV path to the sibling that carries prior
// analysis results. Writes always target the sibling so the original input is
// never clobbered; an input that already is the sibling targets itself.
func analyzedSibling(path string) string {
	if strings.HasSuffix(path, "_analyzed.csv") {
		return path
	}
	return strings.TrimSuffix(path, ".csv") + "_analyzed.csv"
}

// loadCSV reads the tabular encoding. When an analyzed sibling exists beside
// the primary input it is preferred, so prior analysis is not silently
// discarded by re-reading the original. Corrupted rows are repaired where the
// corruption shape allows it; unrecoverable rows are logged and kept as-is.
func (s *Store) loadCSV() *model.DatasetSnapshot {
	path := s.path
	if sibling := analyzedSibling(s.path); sibling != s.path {
		if _, err := os.Stat(sibling); err == nil {
			s.logger.Info("Preferring analyzed dataset file", "path", sibling)
			path = sibling
		}
	}

	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to open dataset, starting empty", "path", path, "error", err)
		}
		return model.NewSnapshot(s.now())
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // tolerate ragged rows, they go through repair

	rows, err := reader.ReadAll()
	if err != nil || len(rows) == 0 {
		s.logger.Warn("Dataset is malformed, starting empty", "path", path, "error", err)
		return model.NewSnapshot(s.now())
	}

	index := make(map[string]int, len(rows[0]))
	for i, col := range rows[0] {
		index[strings.TrimSpace(col)] = i
	}

	snap := model.NewSnapshot(s.now())
	for n, row := range rows[1:] {
		rec := recordFromRow(row, index)
		if projectkey.NeedsRepair(rec) {
			if err := projectkey.Repair(rec); err != nil {
				s.logger.Warn("Row is corrupted and not repairable, keeping as-is",
					"row", n+2, "owner", rec.Owner, "name", rec.Name, "full_name", rec.FullName)
			} else {
				s.logger.Info("Repaired corrupted row", "row", n+2, "full_name", rec.FullName)
			}
		}
		if rec.FullName == "" && (rec.Owner != "" || rec.Name != "") {
			rec.FullName = rec.Owner + "/" + rec.Name
		}
		snap.Repositories = append(snap.Repositories, rec)
	}

	snap.RecomputeCounters(s.now())
	return snap
}

func (s *Store) saveCSV(snap *model.DatasetSnapshot) error {
	target := analyzedSibling(s.path)

	rows := make([][]string, 0, len(snap.Repositories)+1)
	rows = append(rows, storageColumns)
	for _, rec := range snap.Repositories {
		rows = append(rows, rowFromRecord(rec, storageColumns))
	}

	if err := writeCSVAtomic(target, rows); err != nil {
		return &apperrors.PersistenceError{Path: target, Err: err}
	}
	s.logger.Info("Dataset saved", "path", target, "records", snap.Metadata.Total)
	return nil
}

// ExportTabular writes the fixed-column projection of the snapshot to path.
func (s *Store) ExportTabular(snap *model.DatasetSnapshot, path string) error {
	rows := make([][]string, 0, len(snap.Repositories)+1)
	rows = append(rows, ExportColumns)
	for _, rec := range snap.Repositories {
		rows = append(rows, rowFromRecord(rec, ExportColumns))
	}

	if err := writeCSVAtomic(path, rows); err != nil {
		return &apperrors.PersistenceError{Path: path, Err: err}
	}
	s.logger.Info("Dataset exported", "path", path, "records", len(snap.Repositories))
	return nil
}

func writeCSVAtomic(path string, rows [][]string) error {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return writeFileAtomic(path, []byte(sb.String()))
}

func recordFromRow(row []string, index map[string]int) *model.RepositoryRecord {
	cell := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rec := &model.RepositoryRecord{
		FullName:              cell("full_name"),
		Owner:                 cell("owner"),
		Name:                  cell("name"),
		ReleaseType:           model.Classification(cell("release_type")),
		Stars:                 atoiOrZero(cell("stargazer_count")),
		Forks:                 atoiOrZero(cell("fork_count")),
		TotalReleases:         atoiOrZero(cell("total_releases")),
		ContributorCount:      atoiOrZero(cell("collaborator_count")),
		DistinctReleasesCount: atoiOrZero(cell("distinct_releases_count")),
	}

	if lang := cell("language"); lang != "" {
		rec.Language = &lang
	}
	if v := cell("avg_release_interval_days"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rec.AvgReleaseIntervalDays = &f
		}
	}
	if v := cell("collected_at"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			rec.CollectedAt = t
		}
	}
	rec.Analyzed = strings.EqualFold(cell("sonarqube_analyzed"), "true")
	if v := cell("sonarqube_analyzed_at"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			rec.AnalyzedAt = &t
		}
	}

	return rec
}

func rowFromRecord(rec *model.RepositoryRecord, columns []string) []string {
	row := make([]string, len(columns))
	for i, col := range columns {
		switch col {
		case "full_name":
			row[i] = rec.FullName
		case "owner":
			row[i] = rec.Owner
		case "name":
			row[i] = rec.Name
		case "release_type":
			row[i] = string(rec.ReleaseType)
		case "language":
			if rec.Language != nil {
				row[i] = *rec.Language
			}
		case "stargazer_count":
			row[i] = strconv.Itoa(rec.Stars)
		case "fork_count":
			row[i] = strconv.Itoa(rec.Forks)
		case "total_releases":
			row[i] = strconv.Itoa(rec.TotalReleases)
		case "avg_release_interval_days":
			if rec.AvgReleaseIntervalDays != nil {
				row[i] = strconv.FormatFloat(*rec.AvgReleaseIntervalDays, 'f', -1, 64)
			}
		case "collaborator_count":
			row[i] = strconv.Itoa(rec.ContributorCount)
		case "distinct_releases_count":
			row[i] = strconv.Itoa(rec.DistinctReleasesCount)
		case "collected_at":
			if !rec.CollectedAt.IsZero() {
				row[i] = rec.CollectedAt.Format(time.RFC3339)
			}
		case "sonarqube_analyzed":
			row[i] = strconv.FormatBool(rec.Analyzed)
		case "sonarqube_analyzed_at":
			if rec.AnalyzedAt != nil {
				row[i] = rec.AnalyzedAt.Format(time.RFC3339)
			}
		}
	}
	return row
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
