package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licenseledger/internal/ledger"
	"licenseledger/internal/services"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubService implements services.LedgerService with canned responses
type stubService struct {
	verdict     ledger.Verdict
	validateErr error
	lastRequest ledger.ValidationRequest

	stats    ledger.LicenseStats
	activity []ledger.ActivityRecord
	window   ledger.WindowStats
	summary  ledger.Summary
	counts   services.DebugCounts
	readErr  error
}

func (s *stubService) Validate(ctx context.Context, req ledger.ValidationRequest) (ledger.Verdict, error) {
	s.lastRequest = req
	return s.verdict, s.validateErr
}

func (s *stubService) Stats(ctx context.Context, licenseKey string) (ledger.LicenseStats, error) {
	return s.stats, s.readErr
}

func (s *stubService) Activity(ctx context.Context, licenseKey string, limit int) ([]ledger.ActivityRecord, error) {
	return s.activity, s.readErr
}

func (s *stubService) UserActivity(ctx context.Context, licenseKey string, window time.Duration) ([]ledger.ActivityRecord, ledger.WindowStats, error) {
	return s.activity, s.window, s.readErr
}

func (s *stubService) Search(ctx context.Context, filter ledger.ActivityFilter) ([]ledger.ActivityRecord, error) {
	return s.activity, s.readErr
}

func (s *stubService) Summary(ctx context.Context) (ledger.Summary, []ledger.ActivityRecord, error) {
	return s.summary, s.activity, s.readErr
}

func (s *stubService) DebugStatus(ctx context.Context) (services.DebugCounts, []ledger.ActivityRecord, error) {
	return s.counts, s.activity, s.readErr
}

func apiRouter(svc services.LedgerService) *chi.Mux {
	logger := testLogger()
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Mount("/api/validation", NewValidationHandler(svc, logger).Routes())
	r.Mount("/api/licenses/{licenseKey}", NewLicenseHandler(svc, logger).Routes())
	r.Mount("/api", NewStatsHandler(svc, logger).Routes())
	return r
}

func TestValidate_ValidLicense(t *testing.T) {
	svc := &stubService{
		verdict: ledger.Verdict{
			Valid:         true,
			Type:          ledger.TypePremium,
			Status:        ledger.StatusActive,
			DaysRemaining: 12,
			ActiveDevices: 1,
			MaxDevices:    3,
		},
	}
	router := apiRouter(svc)

	body := `{"license_key":"LIC-1234","user_id":"user-7","device_info":{"device_id":"dev-1","device_name":"laptop"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/validation", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ValidationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Valid)
	assert.Equal(t, 12, resp.DaysRemaining)

	assert.Equal(t, "LIC-1234", svc.lastRequest.LicenseKey)
	assert.Equal(t, "dev-1", svc.lastRequest.Device.DeviceID)
	assert.Equal(t, "laptop", svc.lastRequest.Device.DeviceName)
	assert.Equal(t, "203.0.113.5", svc.lastRequest.IPAddress)
}

func TestValidate_OmittedDeviceInfo(t *testing.T) {
	svc := &stubService{verdict: ledger.Verdict{Valid: true}}
	router := apiRouter(svc)

	body := `{"license_key":"LIC-1234","user_id":"user-7"}`
	req := httptest.NewRequest(http.MethodPost, "/api/validation", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, svc.lastRequest.Device.DeviceID)
	assert.Empty(t, svc.lastRequest.Device.DeviceName)
}

func TestValidate_RejectedLicenseIsStill200(t *testing.T) {
	svc := &stubService{
		verdict: ledger.Verdict{Valid: false, Reason: ledger.ReasonExpired},
	}
	router := apiRouter(svc)

	body := `{"license_key":"LIC-1234","user_id":"user-7"}`
	req := httptest.NewRequest(http.MethodPost, "/api/validation", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ValidationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
	assert.Equal(t, ledger.ReasonExpired, resp.Reason)
}

func TestValidate_MissingFields(t *testing.T) {
	router := apiRouter(&stubService{})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing license_key", `{"user_id":"user-7"}`, "license_key is required"},
		{"missing user_id", `{"license_key":"LIC-1"}`, "user_id is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/validation", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestGetStats(t *testing.T) {
	last := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	svc := &stubService{
		stats: ledger.LicenseStats{
			LicenseKey:       "LIC-1234",
			TotalValidations: 42,
			LastValidation:   &last,
			ActiveDevices:    2,
			FailedAttempts:   3,
		},
		activity: []ledger.ActivityRecord{
			{ID: 9, LicenseKey: "LIC-1234", Action: ledger.ActionValidation, Status: ledger.OutcomeValid},
		},
	}
	router := apiRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/licenses/LIC-1234/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.Stats.TotalValidations)
	assert.Equal(t, int64(2), resp.Stats.ActiveDevices)
	require.Len(t, resp.RecentActivity, 1)
	assert.Equal(t, int64(9), resp.RecentActivity[0].ID)
}

func TestGetActivity(t *testing.T) {
	svc := &stubService{
		activity: []ledger.ActivityRecord{
			{ID: 2, LicenseKey: "LIC-1234", Action: ledger.ActionValidation, Status: ledger.OutcomeValid},
			{ID: 1, LicenseKey: "LIC-1234", Action: ledger.ActionActivation, Status: "success"},
		},
	}
	router := apiRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/licenses/LIC-1234/activity?limit=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ActivityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "LIC-1234", resp.LicenseKey)
}

func TestGetUserActivity_DefaultsWindow(t *testing.T) {
	svc := &stubService{
		window: ledger.WindowStats{TotalAttempts: 5, SuccessfulCount: 4, FailedCount: 1},
	}
	router := apiRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/licenses/LIC-1234/user-activity", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp UserActivityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.Days)
	assert.Equal(t, int64(5), resp.Stats.TotalAttempts)
}

func TestGetSummary(t *testing.T) {
	svc := &stubService{
		summary: ledger.Summary{TotalLicenses: 3, TotalValidations: 100},
	}
	router := apiRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/stats/summary", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp SummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Summary.TotalLicenses)
}

func TestSearchActivity_BadTimestamp(t *testing.T) {
	router := apiRouter(&stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/activity/search?start_date=yesterday", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "RFC 3339")
}

func TestSearchActivity_Filters(t *testing.T) {
	svc := &stubService{
		activity: []ledger.ActivityRecord{{ID: 1, LicenseKey: "LIC-1", Status: ledger.OutcomeValid}},
	}
	router := apiRouter(svc)

	req := httptest.NewRequest(http.MethodGet,
		"/api/activity/search?license_key=LIC-1&status=valid&start_date=2026-08-01T00:00:00Z&limit=5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestGetDebugStatus(t *testing.T) {
	svc := &stubService{
		counts:   services.DebugCounts{ActivityRecords: 10, LicenseStats: 4},
		activity: []ledger.ActivityRecord{{ID: 10, LicenseKey: "LIC-1"}},
	}
	router := apiRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/debug/db-status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp DebugStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Database)
	assert.Equal(t, int64(10), resp.Counts.ActivityRecords)
	require.Len(t, resp.RecentEvents, 1)
}

func TestReadError_MapsToProblem(t *testing.T) {
	svc := &stubService{readErr: context.DeadlineExceeded}
	router := apiRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/licenses/LIC-1234/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}
