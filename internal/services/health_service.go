package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"licenseledger/internal/ledger"
)

// HealthService reports service health. Liveness is unconditional;
// readiness requires a reachable database.
type HealthService struct {
	version   string
	store     ledger.Store
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus is the health check response body
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Runtime   map[string]any    `json:"runtime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthService creates a health service over the ledger store
func NewHealthService(version string, store ledger.Store, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		store:     store,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// Liveness reports process health without touching dependencies
func (s *HealthService) Liveness(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	}
}

// Readiness checks the database and reports degraded when it is unreachable
func (s *HealthService) Readiness(ctx context.Context) HealthStatus {
	status := s.Liveness(ctx)
	status.Runtime = map[string]any{
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
	}
	status.Checks = map[string]string{"database": "ok"}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := s.store.Ping(pingCtx); err != nil {
		s.logger.WarnContext(ctx, "readiness check failed",
			slog.String("error", err.Error()))
		status.Status = "degraded"
		status.Checks["database"] = err.Error()
	}

	return status
}
