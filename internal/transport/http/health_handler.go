package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"licenseledger/internal/services"
)

// HealthHandler serves liveness and readiness endpoints
type HealthHandler struct {
	service *services.HealthService
	logger  *slog.Logger
}

// NewHealthHandler creates a health handler
func NewHealthHandler(service *services.HealthService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// Routes returns the router mounted at /api/health
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetHealth)
	r.Get("/live", h.GetLiveness)
	r.Get("/ready", h.GetReadiness)
	return r
}

// GetHealth handles GET /api/health; same semantics as readiness
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.GetReadiness(w, r)
}

// GetLiveness handles GET /api/health/live
func (h *HealthHandler) GetLiveness(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Liveness(r.Context()))
}

// GetReadiness handles GET /api/health/ready. Returns 503 when the
// database is unreachable so load balancers stop routing here.
func (h *HealthHandler) GetReadiness(w http.ResponseWriter, r *http.Request) {
	status := h.service.Readiness(r.Context())
	if status.Status != "healthy" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, status)
}
