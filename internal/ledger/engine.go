package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "licenseledger/internal/errors"
)

// Engine orchestrates one validation attempt: entity resolution, device
// activation, ledger append and aggregate update, all in one transaction.
type Engine struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithPublisher attaches a post-commit event publisher
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithClock overrides the engine clock, used in tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a ledger engine over the given store
func NewEngine(store Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: logger.With(slog.String("component", "ledger_engine")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// defaults returns the creation defaults for a first-sight license key
func (e *Engine) defaults(now time.Time) LicenseDefaults {
	return LicenseDefaults{
		Status:     StatusActive,
		Type:       TypeTrial,
		ExpiresAt:  now.Add(DefaultLicenseWindow),
		MaxDevices: 1,
	}
}

// RecordValidation processes one validation attempt and returns the verdict.
//
// The whole unit of work is transactional: resolving entities, the device
// cap check, the activity append and the stats update either all commit or
// all roll back. A missing license key or user id is a malformed request
// and leaves no trace in the ledger.
func (e *Engine) RecordValidation(ctx context.Context, req ValidationRequest) (Verdict, error) {
	tracer := otel.Tracer("ledger-engine")
	ctx, span := tracer.Start(ctx, "engine.record_validation",
		trace.WithAttributes(
			attribute.String("component", "ledger_engine"),
		),
	)
	defer span.End()

	if req.LicenseKey == "" {
		return Verdict{}, fmt.Errorf("%w: license_key is required", apperrors.ErrMalformedRequest)
	}
	if req.UserID == "" {
		return Verdict{}, fmt.Errorf("%w: user_id is required", apperrors.ErrMalformedRequest)
	}

	now := e.now().UTC()
	var (
		verdict Verdict
		event   Event
	)

	err := e.store.InTx(ctx, func(tx Tx) error {
		// The license upsert takes the row lock. Everything below runs
		// serialized against concurrent validations of the same key.
		lic, err := tx.ResolveLicense(ctx, req.LicenseKey, e.defaults(now))
		if err != nil {
			return fmt.Errorf("resolve license: %w", err)
		}

		user, err := tx.ResolveUser(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("resolve user: %w", err)
		}

		if err := tx.LinkUserLicense(ctx, user.ID, lic.ID); err != nil {
			return fmt.Errorf("link user license: %w", err)
		}

		verdict = computeVerdict(lic, now)

		var act ActivationResult
		if verdict.Valid {
			act, err = e.activateDevice(ctx, tx, lic, req.Device, now)
			if err != nil {
				return fmt.Errorf("activate device: %w", err)
			}
			if !act.Admitted {
				verdict.Valid = false
				verdict.Reason = ReasonDeviceLimitReached
			}
			verdict.ActiveDevices = act.ActiveDevices
			verdict.NewDevice = act.NewDevice
		}

		outcome := OutcomeValid
		if !verdict.Valid {
			outcome = OutcomeInvalid
		}

		deviceBlob, err := json.Marshal(req.Device)
		if err != nil {
			return fmt.Errorf("encode device info: %w", err)
		}

		rec := ActivityRecord{
			LicenseKey:     req.LicenseKey,
			UserID:         req.UserID,
			Action:         ActionValidation,
			Status:         outcome,
			IPAddress:      req.IPAddress,
			DeviceInfo:     deviceBlob,
			AdditionalInfo: req.AdditionalInfo,
			CreatedAt:      now,
		}
		if err := tx.AppendActivity(ctx, lic.ID, user.ID, &rec); err != nil {
			return fmt.Errorf("append activity: %w", err)
		}

		// A fresh admission gets its own activation event in the ledger.
		// Only action=validation rows count toward total_validations.
		if act.NewDevice {
			actRec := ActivityRecord{
				LicenseKey: req.LicenseKey,
				UserID:     req.UserID,
				Action:     ActionActivation,
				Status:     "success",
				IPAddress:  req.IPAddress,
				DeviceInfo: deviceBlob,
				CreatedAt:  now,
			}
			if err := tx.AppendActivity(ctx, lic.ID, user.ID, &actRec); err != nil {
				return fmt.Errorf("append activation: %w", err)
			}
		}

		if err := tx.BumpStats(ctx, lic.ID, StatsUpdate{
			Valid:     verdict.Valid,
			NewDevice: act.NewDevice,
			IPAddress: req.IPAddress,
			At:        now,
		}); err != nil {
			return fmt.Errorf("bump stats: %w", err)
		}

		event = Event{
			LicenseKey: req.LicenseKey,
			UserID:     req.UserID,
			Action:     ActionValidation,
			Status:     outcome,
			IPAddress:  req.IPAddress,
			Timestamp:  now,
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		e.logger.ErrorContext(ctx, "validation transaction failed",
			slog.String("user_id", req.UserID),
			slog.String("error", err.Error()))
		return Verdict{}, err
	}

	span.SetAttributes(
		attribute.Bool("verdict.valid", verdict.Valid),
		attribute.String("verdict.reason", verdict.Reason),
		attribute.Int("verdict.active_devices", verdict.ActiveDevices),
	)

	e.logger.InfoContext(ctx, "validation recorded",
		slog.String("user_id", req.UserID),
		slog.Bool("valid", verdict.Valid),
		slog.String("reason", verdict.Reason),
		slog.Int("active_devices", verdict.ActiveDevices))

	// Publication is strictly post-commit so subscribers never observe
	// events from rolled-back transactions.
	if e.publisher != nil {
		e.publisher.Publish(event)
	}

	return verdict, nil
}

// activateDevice enforces the per-license device cap.
//
// A known device refreshes liveness and is admitted unconditionally;
// re-activation never counts against the cap. A new device is admitted
// only while the active count is below max_devices. The caller holds the
// license row lock, so the count-then-insert pair cannot race.
func (e *Engine) activateDevice(ctx context.Context, tx Tx, lic License, device DeviceInfo, now time.Time) (ActivationResult, error) {
	if device.DeviceID == "" {
		// Requests without a device identity validate but never occupy
		// a device slot.
		count, err := tx.CountActiveDevices(ctx, lic.ID)
		if err != nil {
			return ActivationResult{}, err
		}
		return ActivationResult{ActiveDevices: count, Admitted: true}, nil
	}

	known, err := tx.TouchDevice(ctx, lic.ID, device, now)
	if err != nil {
		return ActivationResult{}, err
	}
	if known {
		count, err := tx.CountActiveDevices(ctx, lic.ID)
		if err != nil {
			return ActivationResult{}, err
		}
		return ActivationResult{ActiveDevices: count, Admitted: true}, nil
	}

	count, err := tx.CountActiveDevices(ctx, lic.ID)
	if err != nil {
		return ActivationResult{}, err
	}

	if count >= lic.MaxDevices {
		return ActivationResult{ActiveDevices: count, Admitted: false}, nil
	}

	if err := tx.InsertDevice(ctx, lic.ID, device, now); err != nil {
		return ActivationResult{}, err
	}

	return ActivationResult{ActiveDevices: count + 1, Admitted: true, NewDevice: true}, nil
}
