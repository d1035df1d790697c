// internal/api/handler.go
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"repo-cadence-collector/internal/dataset"
	"repo-cadence-collector/internal/model"
)

// SnapshotSource provides read access to the current dataset.
type SnapshotSource interface {
	Load() *model.DatasetSnapshot
}

// Handler is the container for API dependencies. The API is a read-only
// view over the dataset file.
type Handler struct {
	source SnapshotSource
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(source SnapshotSource, logger *slog.Logger) http.Handler {
	h := &Handler{
		source: source,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/repositories", h.listRepositories)
		r.Get("/repositories/{owner}/{name}", h.getRepository)
		r.Get("/stats", h.getStats)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listRepositories returns records, optionally filtered by classification.
// GET /v1/repositories?type=rapid&limit=N
func (h *Handler) listRepositories(w http.ResponseWriter, r *http.Request) {
	opts := dataset.SelectOptions{}

	switch typ := r.URL.Query().Get("type"); typ {
	case "":
	case string(model.Rapid), string(model.Slow), string(model.Ineligible):
		opts.Class = model.Classification(typ)
	default:
		respondWithError(w, http.StatusBadRequest, "Invalid 'type' parameter.")
		return
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be a positive integer.")
			return
		}
		opts.Limit = limit
	}

	records := dataset.Select(h.source.Load(), opts)
	respondWithJSON(w, http.StatusOK, map[string]any{
		"count":        len(records),
		"repositories": records,
	})
}

// getRepository returns one record by its owner and name.
// GET /v1/repositories/{owner}/{name}
func (h *Handler) getRepository(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "name")

	rec := h.source.Load().Find(owner + "/" + name)
	if rec == nil {
		respondWithError(w, http.StatusNotFound, "Repository not found")
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}

// getStats returns per-classification aggregates.
// GET /v1/stats
func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, dataset.Statistics(h.source.Load()))
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
