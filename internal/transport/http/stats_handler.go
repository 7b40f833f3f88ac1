package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "licenseledger/internal/errors"
	"licenseledger/internal/infrastructure"
	"licenseledger/internal/ledger"
	"licenseledger/internal/services"
)

// StatsHandler serves cross-license aggregates, activity search, and the
// debug surface.
type StatsHandler struct {
	service services.LedgerService
	logger  *slog.Logger
}

// NewStatsHandler creates a stats handler
func NewStatsHandler(service services.LedgerService, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "stats")),
	}
}

// SummaryResponse is the GET /api/stats/summary body
type SummaryResponse struct {
	Summary        ledger.Summary          `json:"summary"`
	RecentActivity []ledger.ActivityRecord `json:"recent_activity"`
	Timestamp      time.Time               `json:"timestamp"`
}

// GetSummary handles GET /api/stats/summary
func (h *StatsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := infrastructure.TraceIDFromContext(ctx)

	summary, recent, err := h.service.Summary(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "summary read failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apperrors.MapError(err, traceID))
		return
	}

	render.JSON(w, r, SummaryResponse{
		Summary:        summary,
		RecentActivity: recent,
		Timestamp:      time.Now().UTC(),
	})
}

// SearchResponse is the GET /api/activity/search body
type SearchResponse struct {
	Count   int                     `json:"count"`
	Results []ledger.ActivityRecord `json:"results"`
}

// SearchActivity handles GET /api/activity/search.
// Filters combine conjunctively; an empty filter returns the most recent
// rows up to the search cap.
func (h *StatsHandler) SearchActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := infrastructure.TraceIDFromContext(ctx)

	q := r.URL.Query()
	filter := ledger.ActivityFilter{
		LicenseKey: q.Get("license_key"),
		UserID:     q.Get("user_id"),
		Status:     q.Get("status"),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if start := q.Get("start_date"); start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			render.Render(w, r, apperrors.ProblemFromStatus(http.StatusBadRequest,
				"start_date must be an RFC 3339 timestamp", traceID))
			return
		}
		filter.Start = &t
	}
	if end := q.Get("end_date"); end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			render.Render(w, r, apperrors.ProblemFromStatus(http.StatusBadRequest,
				"end_date must be an RFC 3339 timestamp", traceID))
			return
		}
		filter.End = &t
	}

	results, err := h.service.Search(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "activity search failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apperrors.MapError(err, traceID))
		return
	}

	render.JSON(w, r, SearchResponse{
		Count:   len(results),
		Results: results,
	})
}

// DebugStatusResponse is the GET /api/debug/db-status body
type DebugStatusResponse struct {
	Database     string                  `json:"database"`
	Counts       services.DebugCounts    `json:"counts"`
	RecentEvents []ledger.ActivityRecord `json:"recent_events"`
	Timestamp    time.Time               `json:"timestamp"`
}

// GetDebugStatus handles GET /api/debug/db-status
func (h *StatsHandler) GetDebugStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := infrastructure.TraceIDFromContext(ctx)

	counts, recent, err := h.service.DebugStatus(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "debug status failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apperrors.MapError(err, traceID))
		return
	}

	render.JSON(w, r, DebugStatusResponse{
		Database:     "ok",
		Counts:       counts,
		RecentEvents: recent,
		Timestamp:    time.Now().UTC(),
	})
}

// Routes returns the router for summary, search and debug endpoints
func (h *StatsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/stats/summary", h.GetSummary)
	r.Get("/activity/search", h.SearchActivity)
	r.Get("/debug/db-status", h.GetDebugStatus)
	return r
}
