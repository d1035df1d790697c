// internal/api/handler_test.go
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-cadence-collector/internal/model"
)

type staticSource struct {
	snap *model.DatasetSnapshot
}

func (s *staticSource) Load() *model.DatasetSnapshot { return s.snap }

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	snap := model.NewSnapshot(time.Now())
	avg := 12.5
	snap.Repositories = []*model.RepositoryRecord{
		{Owner: "alpha", Name: "one", FullName: "alpha/one", ReleaseType: model.Rapid, Stars: 900, AvgReleaseIntervalDays: &avg},
		{Owner: "beta", Name: "two", FullName: "beta/two", ReleaseType: model.Slow, Stars: 300},
		{Owner: "gamma", Name: "three", FullName: "gamma/three", ReleaseType: model.Rapid, Stars: 150},
	}
	snap.RecomputeCounters(time.Now())

	return NewRouter(&staticSource{snap: snap}, logger)
}

func TestHealthCheck(t *testing.T) {
	rr := httptest.NewRecorder()
	testRouter(t).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestListRepositories(t *testing.T) {
	router := testRouter(t)

	t.Run("all", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/repositories", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var body struct {
			Count        int                       `json:"count"`
			Repositories []*model.RepositoryRecord `json:"repositories"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, 3, body.Count)
	})

	t.Run("filter by type", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/repositories?type=rapid", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var body struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Count)
	})

	t.Run("limit", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/repositories?limit=1", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var body struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, 1, body.Count)
	})

	t.Run("invalid type", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/repositories?type=bogus", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("invalid limit", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/repositories?limit=-3", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGetRepository(t *testing.T) {
	router := testRouter(t)

	t.Run("found", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/repositories/alpha/one", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var rec model.RepositoryRecord
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
		assert.Equal(t, "alpha/one", rec.FullName)
		assert.Equal(t, model.Rapid, rec.ReleaseType)
	})

	t.Run("not found", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/repositories/nobody/nothing", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestGetStats(t *testing.T) {
	rr := httptest.NewRecorder()
	testRouter(t).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var stats struct {
		Total int `json:"total"`
		Rapid struct {
			Count int `json:"count"`
		} `json:"rapid"`
		Slow struct {
			Count int `json:"count"`
		} `json:"slow"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Rapid.Count)
	assert.Equal(t, 1, stats.Slow.Count)
}
