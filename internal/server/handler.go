// Package server exposes the search engine over HTTP: document ingestion,
// synchronous and asynchronous search, job polling, cache control, and
// index statistics.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/quarrysearch/quarry/internal/analytics"
	"github.com/quarrysearch/quarry/internal/engine"
	"github.com/quarrysearch/quarry/internal/index"
	"github.com/quarrysearch/quarry/internal/query"
	"github.com/quarrysearch/quarry/internal/ranker"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
	"github.com/quarrysearch/quarry/pkg/logger"
	"github.com/quarrysearch/quarry/pkg/middleware"
)

// Handler wires HTTP routes to the engine facade.
type Handler struct {
	engine       *engine.SearchEngine
	collector    *analytics.Collector
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

// New creates the Handler; collector may be nil when analytics is
// disabled.
func New(eng *engine.SearchEngine, collector *analytics.Collector, defaultLimit, maxResults int) *Handler {
	return &Handler{
		engine:       eng,
		collector:    collector,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "http-handler"),
	}
}

// Register attaches all routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.AddDocument)
	mux.HandleFunc("PUT /api/v1/documents/{id}", h.UpdateDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.RemoveDocument)
	mux.HandleFunc("POST /api/v1/documents/bulk", h.BulkAdd)
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/search/async", h.SearchAsync)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.Job)
	mux.HandleFunc("DELETE /api/v1/jobs/{id}", h.CancelJob)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) {
	var doc index.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	start := time.Now()
	if err := h.engine.Add(r.Context(), doc); err != nil {
		h.writeEngineError(w, r, err, "add failed")
		return
	}
	h.track(analytics.IndexEvent{
		Type:       analytics.EventIndexDoc,
		DocumentID: doc.ID,
		LatencyMs:  time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	})
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": doc.ID, "status": "indexed"})
}

func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	var doc index.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	doc.ID = r.PathValue("id")
	if err := h.engine.Update(r.Context(), doc); err != nil {
		h.writeEngineError(w, r, err, "update failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"id": doc.ID, "status": "updated"})
}

func (h *Handler) RemoveDocument(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")
	if err := h.engine.Remove(r.Context(), docID); err != nil {
		h.writeEngineError(w, r, err, "remove failed")
		return
	}
	h.track(analytics.IndexEvent{
		Type:       analytics.EventRemoveDoc,
		DocumentID: docID,
		Timestamp:  time.Now().UTC(),
	})
	h.writeJSON(w, http.StatusOK, map[string]string{"id": docID, "status": "removed"})
}

func (h *Handler) BulkAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Documents []index.Document `json:"documents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.engine.AddBulk(r.Context(), req.Documents); err != nil {
		var bulkErr *apperrors.BulkError
		if errors.As(err, &bulkErr) {
			h.writeJSON(w, http.StatusConflict, map[string]any{
				"error":        "bulk add rolled back",
				"document_ids": bulkErr.DocumentIDs,
			})
			return
		}
		h.writeEngineError(w, r, err, "bulk add failed")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"status": "indexed",
		"count":  len(req.Documents),
	})
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, err := h.searchRequestFromQuery(r)
	if err != nil {
		h.writeEngineError(w, r, err, "invalid search request")
		return
	}

	page, err := h.engine.Search(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, r, err, "search failed")
		return
	}
	h.trackSearch(r, req, page, time.Since(start), false)
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) SearchAsync(w http.ResponseWriter, r *http.Request) {
	// Limit is a pointer so an explicit zero (count-only query) is
	// distinguishable from an absent field, which gets the default.
	var body struct {
		Text          string        `json:"text"`
		Mode          query.Mode    `json:"mode"`
		Ranking       ranker.Params `json:"ranking"`
		Limit         *int          `json:"limit"`
		Offset        int           `json:"offset"`
		WithBreakdown bool          `json:"with_breakdown"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req := query.Request{
		Text:          body.Text,
		Mode:          body.Mode,
		Ranking:       body.Ranking,
		Limit:         h.defaultLimit,
		Offset:        body.Offset,
		WithBreakdown: body.WithBreakdown,
	}
	if body.Limit != nil {
		req.Limit = *body.Limit
	}
	if req.Limit > h.maxResults {
		req.Limit = h.maxResults
	}
	jobID, err := h.engine.SearchAsync(req)
	if err != nil {
		h.writeEngineError(w, r, err, "async search submission failed")
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "pending"})
}

func (h *Handler) Job(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.Job(r.PathValue("id"))
	if err != nil {
		h.writeEngineError(w, r, err, "job lookup failed")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CancelJob(r.PathValue("id")); err != nil {
		h.writeEngineError(w, r, err, "job cancel failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	hits, misses := h.engine.CacheStats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": hitRate,
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.InvalidateCache(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// searchRequestFromQuery builds a query.Request from URL parameters,
// clamping the limit to the configured maximum.
func (h *Handler) searchRequestFromQuery(r *http.Request) (query.Request, error) {
	params := r.URL.Query()
	req := query.Request{
		Text:  params.Get("q"),
		Limit: h.defaultLimit,
	}
	if req.Text == "" {
		return req, apperrors.New(apperrors.ErrInvalidQuery, 400, "query parameter 'q' is required")
	}
	if v := params.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return req, apperrors.Newf(apperrors.ErrInvalidQuery, 400, "limit %q is not an integer", v)
		}
		req.Limit = limit
	}
	if req.Limit > h.maxResults {
		req.Limit = h.maxResults
	}
	if v := params.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			return req, apperrors.Newf(apperrors.ErrInvalidQuery, 400, "offset %q is not an integer", v)
		}
		req.Offset = offset
	}
	if v := params.Get("mode"); v != "" {
		req.Mode = query.Mode(v)
	}
	if v := params.Get("algorithm"); v != "" {
		req.Ranking.Algorithm = ranker.Algorithm(v)
	}
	if params.Get("breakdown") == "true" {
		req.WithBreakdown = true
	}
	return req, nil
}

func (h *Handler) trackSearch(r *http.Request, req query.Request, page *query.Page, elapsed time.Duration, async bool) {
	if h.collector == nil {
		return
	}
	h.collector.Track(analytics.SearchEvent{
		Type:      analytics.EventSearch,
		Query:     req.Text,
		Algorithm: string(req.Ranking.Algorithm),
		TotalHits: page.TotalHits,
		Returned:  len(page.Results),
		LatencyMs: elapsed.Milliseconds(),
		Async:     async,
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r.Context()),
	})
}

func (h *Handler) track(event any) {
	if h.collector != nil {
		h.collector.Track(event)
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log := logger.FromContext(r.Context())
	status := apperrors.HTTPStatusCode(err)
	if status >= 500 {
		log.Error(msg, "error", err)
	} else {
		log.Warn(msg, "error", err)
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
