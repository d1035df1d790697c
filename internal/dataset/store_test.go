// internal/dataset/store_test.go
package dataset

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-cadence-collector/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func floatPtr(f float64) *float64 { return &f }

func testRecord(fullName string, class model.Classification) *model.RepositoryRecord {
	owner, name, _ := splitFullName(fullName)
	return &model.RepositoryRecord{
		Owner:                  owner,
		Name:                   name,
		FullName:               fullName,
		ReleaseType:            class,
		Stars:                  1200,
		Forks:                  340,
		TotalReleases:          25,
		AvgReleaseIntervalDays: floatPtr(11.3),
		ContributorCount:       47,
		DistinctReleasesCount:  25,
		CollectedAt:            time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func splitFullName(fullName string) (string, string, bool) {
	for i := range fullName {
		if fullName[i] == '/' {
			return fullName[:i], fullName[i+1:], true
		}
	}
	return fullName, "", false
}

func TestStore_Upsert(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "dataset.json"), testLogger())
	snap := store.Load()

	rec := testRecord("kubernetes/kubernetes", model.Rapid)
	assert.Equal(t, Added, store.Upsert(snap, rec))
	assert.Equal(t, AlreadyExists, store.Upsert(snap, testRecord("kubernetes/kubernetes", model.Rapid)))
	assert.Len(t, snap.Repositories, 1, "duplicate upsert must not grow the collection")
}

func TestStore_Upsert_NormalizesIdentity(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "dataset.json"), testLogger())
	snap := store.Load()

	rec := &model.RepositoryRecord{Owner: "grafana", Name: "loki"}
	assert.Equal(t, Added, store.Upsert(snap, rec))
	assert.Equal(t, "grafana/loki", rec.FullName)
}

func TestStore_MergeAnalysis(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "dataset.json"), testLogger())
	snap := store.Load()
	store.Upsert(snap, testRecord("prometheus/prometheus", model.Rapid))

	metrics := map[string]model.MetricValue{
		"bugs":     model.IntMetric(3),
		"coverage": model.PercentMetric(81.5),
	}

	assert.Equal(t, Updated, store.MergeAnalysis(snap, "prometheus/prometheus", metrics))
	rec := snap.Find("prometheus/prometheus")
	require.NotNil(t, rec)
	assert.True(t, rec.Analyzed)
	require.NotNil(t, rec.AnalyzedAt)
	assert.Equal(t, metrics, rec.Metrics)

	t.Run("unknown key creates nothing", func(t *testing.T) {
		before := len(snap.Repositories)
		assert.Equal(t, NotFound, store.MergeAnalysis(snap, "nobody/nothing", metrics))
		assert.Len(t, snap.Repositories, before)
	})
}

func TestStore_SaveRecomputesCounters(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "dataset.json"), testLogger())
	snap := store.Load()
	store.Upsert(snap, testRecord("a/one", model.Rapid))
	store.Upsert(snap, testRecord("b/two", model.Rapid))
	store.Upsert(snap, testRecord("c/three", model.Slow))
	store.Upsert(snap, testRecord("d/four", model.Ineligible))

	// Poison the stored counters; save must not trust them.
	snap.Metadata.Total = 99
	snap.Metadata.RapidCount = 99
	snap.Metadata.SlowCount = 99

	require.NoError(t, store.Save(snap))

	loaded := store.Load()
	assert.Equal(t, 4, loaded.Metadata.Total)
	assert.Equal(t, 2, loaded.Metadata.RapidCount)
	assert.Equal(t, 1, loaded.Metadata.SlowCount)
}

func TestStore_JSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.json")
	store := New(path, testLogger())
	snap := store.Load()

	rec := testRecord("vercel/next.js", model.Rapid)
	rec.Metrics = map[string]model.MetricValue{
		"bugs":               model.IntMetric(12),
		"coverage":           model.PercentMetric(73.4),
		"reliability_rating": model.RatingMetric(model.RatingB),
		"alert_status":       model.StatusMetric("OK"),
	}
	rec.Analyzed = true
	store.Upsert(snap, rec)
	store.Upsert(snap, testRecord("apache/kafka", model.Slow))
	require.NoError(t, store.Save(snap))

	first := store.Load()
	require.NoError(t, store.Save(first))
	second := store.Load()

	assert.Equal(t, first.Repositories, second.Repositories)
	assert.Equal(t, first.Metadata.Total, second.Metadata.Total)
	assert.Equal(t, first.Metadata.RapidCount, second.Metadata.RapidCount)
	assert.Equal(t, first.Metadata.SlowCount, second.Metadata.SlowCount)

	got := second.Find("vercel/next.js")
	require.NotNil(t, got)
	assert.Equal(t, model.IntMetric(12), got.Metrics["bugs"])
	assert.Equal(t, model.RatingMetric(model.RatingB), got.Metrics["reliability_rating"])
}

func TestStore_LoadMalformedYieldsEmptySnapshot(t *testing.T) {
	dir := t.TempDir()

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "broken.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

		snap := New(path, testLogger()).Load()
		assert.Empty(t, snap.Repositories)
	})

	t.Run("missing file", func(t *testing.T) {
		snap := New(filepath.Join(dir, "nope.json"), testLogger()).Load()
		assert.Empty(t, snap.Repositories)
	})
}

func TestStore_CSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.csv")
	store := New(path, testLogger())

	snap := store.Load()
	store.Upsert(snap, testRecord("golang/go", model.Slow))
	rec := testRecord("rust-lang/rust", model.Rapid)
	rec.Analyzed = true
	at := time.Date(2025, 7, 2, 8, 30, 0, 0, time.UTC)
	rec.AnalyzedAt = &at
	store.Upsert(snap, rec)
	require.NoError(t, store.Save(snap))

	// CSV saves target the analyzed sibling, leaving the input untouched.
	_, err := os.Stat(filepath.Join(filepath.Dir(path), "dataset_analyzed.csv"))
	require.NoError(t, err)

	loaded := store.Load()
	require.Len(t, loaded.Repositories, 2)

	got := loaded.Find("rust-lang/rust")
	require.NotNil(t, got)
	assert.True(t, got.Analyzed)
	require.NotNil(t, got.AnalyzedAt)
	assert.True(t, at.Equal(*got.AnalyzedAt))
	require.NotNil(t, got.AvgReleaseIntervalDays)
	assert.InDelta(t, 11.3, *got.AvgReleaseIntervalDays, 0.001)
	assert.Equal(t, 1, loaded.Metadata.RapidCount)
	assert.Equal(t, 1, loaded.Metadata.SlowCount)
}

func TestStore_CSVPrefersAnalyzedSibling(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "repos.csv")
	sibling := filepath.Join(dir, "repos_analyzed.csv")

	header := "full_name,owner,name,release_type,stargazer_count,sonarqube_analyzed\n"
	require.NoError(t, os.WriteFile(primary, []byte(header+"a/one,a,one,rapid,100,false\n"), 0o644))
	require.NoError(t, os.WriteFile(sibling, []byte(header+"a/one,a,one,rapid,100,true\n"), 0o644))

	snap := New(primary, testLogger()).Load()
	require.Len(t, snap.Repositories, 1)
	assert.True(t, snap.Repositories[0].Analyzed, "prior analysis must not be discarded")
}

func TestStore_CSVRepairsCorruptedRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repos.csv")
	content := "full_name,owner,name,release_type,stargazer_count\n" +
		"tianshiyeben/wgcloud,,wgcloutianshiyeben,slow,3000\n" + // recoverable
		"solo,,,slow,10\n" + // unrecoverable, must be retained
		"b/two,b,two,rapid,200\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	snap := New(path, testLogger()).Load()
	require.Len(t, snap.Repositories, 3, "unrecoverable rows are kept, never dropped")

	fixed := snap.Find("tianshiyeben/wgcloud")
	require.NotNil(t, fixed)
	assert.Equal(t, "tianshiyeben", fixed.Owner)
	assert.Equal(t, "wgcloud", fixed.Name)

	broken := snap.Find("solo")
	require.NotNil(t, broken)
	assert.Empty(t, broken.Owner)
}

func TestStore_ExportTabular(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "dataset.json"), testLogger())
	snap := store.Load()
	rec := testRecord("a/one", model.Rapid)
	rec.Metrics = map[string]model.MetricValue{"bugs": model.IntMetric(1)} // not exported
	store.Upsert(snap, rec)

	out := filepath.Join(dir, "export.csv")
	require.NoError(t, store.ExportTabular(snap, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := string(data)
	assert.Contains(t, lines, "full_name,owner,name,release_type,language,stargazer_count,fork_count,total_releases,avg_release_interval_days,collaborator_count")
	assert.Contains(t, lines, "a/one,a,one,rapid,,1200,340,25,11.3,47")
	assert.NotContains(t, lines, "bugs")
}

func TestSelect(t *testing.T) {
	store := New("unused.json", testLogger())
	snap := model.NewSnapshot(time.Now())
	store.Upsert(snap, testRecord("a/one", model.Rapid))
	analyzed := testRecord("b/two", model.Rapid)
	analyzed.Analyzed = true
	store.Upsert(snap, analyzed)
	store.Upsert(snap, testRecord("c/three", model.Slow))

	assert.Len(t, Select(snap, SelectOptions{}), 3)
	assert.Len(t, Select(snap, SelectOptions{Class: model.Rapid}), 2)
	assert.Len(t, Select(snap, SelectOptions{Class: model.Rapid, SkipAnalyzed: true}), 1)
	assert.Len(t, Select(snap, SelectOptions{Limit: 2}), 2)
}

func TestStatistics(t *testing.T) {
	store := New("unused.json", testLogger())
	snap := model.NewSnapshot(time.Now())

	r1 := testRecord("a/one", model.Rapid)
	r1.AvgReleaseIntervalDays = floatPtr(10)
	r1.ContributorCount = 20
	r2 := testRecord("b/two", model.Rapid)
	r2.AvgReleaseIntervalDays = floatPtr(20)
	r2.ContributorCount = 40
	r3 := testRecord("c/three", model.Slow)
	r3.AvgReleaseIntervalDays = floatPtr(90)
	store.Upsert(snap, r1)
	store.Upsert(snap, r2)
	store.Upsert(snap, r3)

	stats := Statistics(snap)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Rapid.Count)
	assert.InDelta(t, 15, stats.Rapid.AvgInterval, 0.001)
	assert.InDelta(t, 30, stats.Rapid.AvgContributors, 0.001)
	assert.Equal(t, 1, stats.Slow.Count)
	assert.InDelta(t, 90, stats.Slow.AvgInterval, 0.001)
}
