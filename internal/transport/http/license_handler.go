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

// LicenseHandler serves per-license read endpoints
type LicenseHandler struct {
	service services.LedgerService
	logger  *slog.Logger
}

// NewLicenseHandler creates a license read handler
func NewLicenseHandler(service services.LedgerService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the router mounted at /api/licenses/{licenseKey}
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/stats", h.GetStats)
	r.Get("/activity", h.GetActivity)
	r.Get("/user-activity", h.GetUserActivity)
	return r
}

// StatsResponse pairs the materialized counters with a short sample of
// the most recent ledger rows.
type StatsResponse struct {
	Stats          ledger.LicenseStats     `json:"stats"`
	RecentActivity []ledger.ActivityRecord `json:"recent_activity"`
}

// statsRecentLimit bounds the activity sample on the stats view
const statsRecentLimit = 10

// GetStats handles GET /api/licenses/{licenseKey}/stats.
//
// Stats are materialized in the validation transaction, so the numbers
// here always include every validation that has already returned.
func (h *LicenseHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := infrastructure.TraceIDFromContext(ctx)
	licenseKey := chi.URLParam(r, "licenseKey")

	stats, err := h.service.Stats(ctx, licenseKey)
	if err != nil {
		h.logger.ErrorContext(ctx, "stats read failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apperrors.MapError(err, traceID))
		return
	}

	recent, err := h.service.Activity(ctx, licenseKey, statsRecentLimit)
	if err != nil {
		h.logger.ErrorContext(ctx, "stats activity read failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apperrors.MapError(err, traceID))
		return
	}

	render.JSON(w, r, StatsResponse{
		Stats:          stats,
		RecentActivity: recent,
	})
}

// ActivityResponse wraps a slice of ledger rows
type ActivityResponse struct {
	LicenseKey string                  `json:"license_key"`
	Count      int                     `json:"count"`
	Activity   []ledger.ActivityRecord `json:"activity"`
}

// GetActivity handles GET /api/licenses/{licenseKey}/activity
func (h *LicenseHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := infrastructure.TraceIDFromContext(ctx)
	licenseKey := chi.URLParam(r, "licenseKey")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := h.service.Activity(ctx, licenseKey, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "activity read failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apperrors.MapError(err, traceID))
		return
	}

	render.JSON(w, r, ActivityResponse{
		LicenseKey: licenseKey,
		Count:      len(records),
		Activity:   records,
	})
}

// UserActivityResponse carries windowed activity plus aggregate counts
type UserActivityResponse struct {
	LicenseKey string                  `json:"license_key"`
	Days       int                     `json:"days"`
	Stats      ledger.WindowStats      `json:"stats"`
	Activity   []ledger.ActivityRecord `json:"activity"`
}

// GetUserActivity handles GET /api/licenses/{licenseKey}/user-activity
func (h *LicenseHandler) GetUserActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := infrastructure.TraceIDFromContext(ctx)
	licenseKey := chi.URLParam(r, "licenseKey")

	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 || days > 365 {
		days = 7
	}

	records, stats, err := h.service.UserActivity(ctx, licenseKey, time.Duration(days)*24*time.Hour)
	if err != nil {
		h.logger.ErrorContext(ctx, "user activity read failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apperrors.MapError(err, traceID))
		return
	}

	render.JSON(w, r, UserActivityResponse{
		LicenseKey: licenseKey,
		Days:       days,
		Stats:      stats,
		Activity:   records,
	})
}
