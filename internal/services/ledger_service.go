package services

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"licenseledger/internal/infrastructure"
	"licenseledger/internal/ledger"
)

// LedgerService is the application-facing surface for validation and
// ledger reads. The transport layer depends on this interface, not on the
// engine or store directly.
type LedgerService interface {
	Validate(ctx context.Context, req ledger.ValidationRequest) (ledger.Verdict, error)
	Stats(ctx context.Context, licenseKey string) (ledger.LicenseStats, error)
	Activity(ctx context.Context, licenseKey string, limit int) ([]ledger.ActivityRecord, error)
	UserActivity(ctx context.Context, licenseKey string, window time.Duration) ([]ledger.ActivityRecord, ledger.WindowStats, error)
	Search(ctx context.Context, filter ledger.ActivityFilter) ([]ledger.ActivityRecord, error)
	Summary(ctx context.Context) (ledger.Summary, []ledger.ActivityRecord, error)
	DebugStatus(ctx context.Context) (DebugCounts, []ledger.ActivityRecord, error)
}

// DebugCounts reports raw table sizes for the debug endpoint
type DebugCounts struct {
	ActivityRecords int64 `json:"activity_records"`
	LicenseStats    int64 `json:"license_stats"`
}

const (
	validateTimeout = 10 * time.Second
	readTimeout     = 5 * time.Second

	// summaryRecentLimit bounds the recent-activity slice on the summary view
	summaryRecentLimit = 20

	// debugRecentLimit bounds the event sample on the debug status view
	debugRecentLimit = 5

	// activityLimitCap is both the default and the ceiling for the
	// per-license activity list
	activityLimitCap = 50
)

type ledgerService struct {
	engine  *ledger.Engine
	store   ledger.Store
	metrics *infrastructure.BusinessMetrics
	logger  *slog.Logger
}

// NewLedgerService creates the ledger application service. metrics may be
// nil when metric export is disabled.
func NewLedgerService(engine *ledger.Engine, store ledger.Store, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) LedgerService {
	return &ledgerService{
		engine:  engine,
		store:   store,
		metrics: metrics,
		logger:  logger.With(slog.String("service", "ledger")),
	}
}

func (s *ledgerService) Validate(ctx context.Context, req ledger.ValidationRequest) (ledger.Verdict, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "ledger_service.validate",
		trace.WithAttributes(
			attribute.String("user_id", req.UserID),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	start := time.Now()
	verdict, err := s.engine.RecordValidation(ctx, req)
	duration := time.Since(start)

	if err != nil {
		infrastructure.RecordError(ctx, err)
		return ledger.Verdict{}, err
	}

	outcome := ledger.OutcomeValid
	if !verdict.Valid {
		outcome = verdict.Reason
	}
	infrastructure.RecordValidationMetrics(ctx, s.metrics, outcome, duration, verdict.NewDevice)

	return verdict, nil
}

func (s *ledgerService) Stats(ctx context.Context, licenseKey string) (ledger.LicenseStats, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	stats, err := s.store.ReadStats(ctx, licenseKey)
	if err != nil {
		s.logger.ErrorContext(ctx, "stats read failed",
			slog.String("error", err.Error()))
		return ledger.LicenseStats{}, err
	}
	return stats, nil
}

func (s *ledgerService) Activity(ctx context.Context, licenseKey string, limit int) ([]ledger.ActivityRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	if limit <= 0 || limit > activityLimitCap {
		limit = activityLimitCap
	}
	return s.store.RecentActivity(ctx, licenseKey, limit)
}

func (s *ledgerService) UserActivity(ctx context.Context, licenseKey string, window time.Duration) ([]ledger.ActivityRecord, ledger.WindowStats, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	since := time.Now().UTC().Add(-window)
	return s.store.WindowActivity(ctx, licenseKey, since)
}

func (s *ledgerService) Search(ctx context.Context, filter ledger.ActivityFilter) ([]ledger.ActivityRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	return s.store.SearchActivity(ctx, filter)
}

func (s *ledgerService) Summary(ctx context.Context) (ledger.Summary, []ledger.ActivityRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	// Totals and the recent-activity slice are independent reads
	var (
		summary ledger.Summary
		recent  []ledger.ActivityRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summary, err = s.store.Summary(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		recent, err = s.store.RecentActivityAll(gctx, summaryRecentLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return ledger.Summary{}, nil, err
	}

	return summary, recent, nil
}

func (s *ledgerService) DebugStatus(ctx context.Context) (DebugCounts, []ledger.ActivityRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	activity, stats, err := s.store.Counts(ctx)
	if err != nil {
		return DebugCounts{}, nil, err
	}

	recent, err := s.store.RecentActivityAll(ctx, debugRecentLimit)
	if err != nil {
		return DebugCounts{}, nil, err
	}

	return DebugCounts{ActivityRecords: activity, LicenseStats: stats}, recent, nil
}
