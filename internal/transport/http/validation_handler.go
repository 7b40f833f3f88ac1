package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "licenseledger/internal/errors"
	"licenseledger/internal/infrastructure"
	"licenseledger/internal/ledger"
	"licenseledger/internal/middleware"
	"licenseledger/internal/services"
)

var validate = validator.New()

// ValidationHandler handles license validation requests
type ValidationHandler struct {
	service services.LedgerService
	logger  *slog.Logger
}

// NewValidationHandler creates a validation handler
func NewValidationHandler(service services.LedgerService, logger *slog.Logger) *ValidationHandler {
	return &ValidationHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "validation")),
	}
}

// DevicePayload is the device identity object on the validation payload
type DevicePayload struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

// ValidationRequest is the POST /api/validation payload. Device identity
// arrives as a nested device_info object and is optional.
type ValidationRequest struct {
	LicenseKey     string         `json:"license_key" validate:"required"`
	UserID         string         `json:"user_id" validate:"required"`
	DeviceInfo     *DevicePayload `json:"device_info,omitempty"`
	AdditionalInfo string         `json:"additional_info,omitempty"`
}

// Bind implements the render.Binder interface
func (v *ValidationRequest) Bind(r *http.Request) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "LicenseKey":
				return errors.New("license_key is required")
			case "UserID":
				return errors.New("user_id is required")
			}
		}
		return err
	}
	return nil
}

// ValidationResponse is the POST /api/validation response body
type ValidationResponse struct {
	ledger.Verdict
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Routes returns the router for the validation endpoint
func (h *ValidationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Validate)
	return r
}

// Validate handles POST /api/validation.
//
// A rejected license is still HTTP 200: the verdict body carries validity.
// Only malformed requests and processing failures map to error statuses.
func (h *ValidationHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("validation-handler")
	ctx, span := tracer.Start(ctx, "validation_handler.validate",
		trace.WithAttributes(
			attribute.String("http.route", "/api/validation"),
		),
	)
	defer span.End()

	traceID := infrastructure.TraceIDFromContext(ctx)

	var req ValidationRequest
	if err := render.Bind(r, &req); err != nil {
		h.logger.WarnContext(ctx, "malformed validation request",
			slog.String("error", err.Error()))
		render.Render(w, r, apperrors.ProblemFromStatus(http.StatusBadRequest, err.Error(), traceID))
		return
	}

	var device ledger.DeviceInfo
	if req.DeviceInfo != nil {
		device = ledger.DeviceInfo{
			DeviceID:   req.DeviceInfo.DeviceID,
			DeviceName: req.DeviceInfo.DeviceName,
		}
	}

	verdict, err := h.service.Validate(ctx, ledger.ValidationRequest{
		LicenseKey:     req.LicenseKey,
		UserID:         req.UserID,
		Device:         device,
		AdditionalInfo: req.AdditionalInfo,
		IPAddress:      middleware.GetRealIP(r),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "validation failed",
			slog.String("user_id", req.UserID),
			slog.String("error", err.Error()))
		render.Render(w, r, apperrors.MapError(err, traceID))
		return
	}

	span.SetAttributes(
		attribute.Bool("verdict.valid", verdict.Valid),
		attribute.String("verdict.reason", verdict.Reason),
	)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ValidationResponse{
		Verdict:   verdict,
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
	})
}
