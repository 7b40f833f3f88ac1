package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	apperrors "licenseledger/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturingPublisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturingPublisher) all() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRecordValidation_FirstSightCreatesTrialLicense(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	engine := NewEngine(store, testLogger(), WithClock(fixedClock(now)))

	verdict, err := engine.RecordValidation(context.Background(), ValidationRequest{
		LicenseKey: "LIC-NEW-0001",
		UserID:     "user-1",
		Device:     DeviceInfo{DeviceID: "dev-1", DeviceName: "laptop"},
		IPAddress:  "203.0.113.4",
	})
	require.NoError(t, err)

	assert.True(t, verdict.Valid)
	assert.Equal(t, TypeTrial, verdict.Type)
	assert.Equal(t, StatusActive, verdict.Status)
	assert.Equal(t, 1, verdict.ActiveDevices)
	assert.Equal(t, 30, verdict.DaysRemaining)

	stats, err := store.ReadStats(context.Background(), "LIC-NEW-0001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalValidations)
	assert.Equal(t, int64(1), stats.ActiveDevices)
	assert.Equal(t, int64(0), stats.FailedAttempts)
	assert.Equal(t, "203.0.113.4", stats.LastIP)
}

func TestRecordValidation_NewDeviceAppendsActivationRow(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, testLogger())

	_, err := engine.RecordValidation(context.Background(), ValidationRequest{
		LicenseKey: "LIC-ACT-0001",
		UserID:     "user-1",
		Device:     DeviceInfo{DeviceID: "dev-1"},
	})
	require.NoError(t, err)

	records, err := store.RecentActivity(context.Background(), "LIC-ACT-0001", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	actions := []Action{records[0].Action, records[1].Action}
	assert.Contains(t, actions, ActionValidation)
	assert.Contains(t, actions, ActionActivation)
}

func TestRecordValidation_ExpiredLicense(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.seedLicense(License{
		Key:        "LIC-EXP-0001",
		Status:     StatusActive,
		Type:       TypeBasic,
		ExpiresAt:  now.Add(-time.Hour),
		MaxDevices: 3,
	})
	engine := NewEngine(store, testLogger(), WithClock(fixedClock(now)))

	verdict, err := engine.RecordValidation(context.Background(), ValidationRequest{
		LicenseKey: "LIC-EXP-0001",
		UserID:     "user-1",
		Device:     DeviceInfo{DeviceID: "dev-1"},
	})
	require.NoError(t, err)

	assert.False(t, verdict.Valid)
	assert.Equal(t, ReasonExpired, verdict.Reason)
	assert.Equal(t, 0, verdict.DaysRemaining)

	// The rejection is still recorded: one failed attempt, no device slot
	stats, err := store.ReadStats(context.Background(), "LIC-EXP-0001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalValidations)
	assert.Equal(t, int64(1), stats.FailedAttempts)
	assert.Equal(t, int64(0), stats.ActiveDevices)

	records, err := store.RecentActivity(context.Background(), "LIC-EXP-0001", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, OutcomeInvalid, records[0].Status)
}

func TestRecordValidation_InactiveLicense(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.seedLicense(License{
		Key:        "LIC-INA-0001",
		Status:     StatusInactive,
		Type:       TypePremium,
		ExpiresAt:  now.Add(90 * 24 * time.Hour),
		MaxDevices: 5,
	})
	engine := NewEngine(store, testLogger(), WithClock(fixedClock(now)))

	verdict, err := engine.RecordValidation(context.Background(), ValidationRequest{
		LicenseKey: "LIC-INA-0001",
		UserID:     "user-1",
	})
	require.NoError(t, err)

	assert.False(t, verdict.Valid)
	assert.Equal(t, ReasonInactive, verdict.Reason)
}

func TestRecordValidation_DeviceCapEnforced(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.seedLicense(License{
		Key:        "LIC-CAP-0001",
		Status:     StatusActive,
		Type:       TypeBasic,
		ExpiresAt:  now.Add(30 * 24 * time.Hour),
		MaxDevices: 2,
	})
	engine := NewEngine(store, testLogger(), WithClock(fixedClock(now)))
	ctx := context.Background()

	for _, deviceID := range []string{"dev-1", "dev-2"} {
		verdict, err := engine.RecordValidation(ctx, ValidationRequest{
			LicenseKey: "LIC-CAP-0001",
			UserID:     "user-1",
			Device:     DeviceInfo{DeviceID: deviceID},
		})
		require.NoError(t, err)
		require.True(t, verdict.Valid)
	}

	// Third device is over the cap and must be rejected
	verdict, err := engine.RecordValidation(ctx, ValidationRequest{
		LicenseKey: "LIC-CAP-0001",
		UserID:     "user-1",
		Device:     DeviceInfo{DeviceID: "dev-3"},
	})
	require.NoError(t, err)
	assert.False(t, verdict.Valid)
	assert.Equal(t, ReasonDeviceLimitReached, verdict.Reason)
	assert.Equal(t, 2, verdict.ActiveDevices)

	// A known device keeps validating without consuming another slot
	verdict, err = engine.RecordValidation(ctx, ValidationRequest{
		LicenseKey: "LIC-CAP-0001",
		UserID:     "user-1",
		Device:     DeviceInfo{DeviceID: "dev-1"},
	})
	require.NoError(t, err)
	assert.True(t, verdict.Valid)
	assert.Equal(t, 2, verdict.ActiveDevices)

	stats, err := store.ReadStats(ctx, "LIC-CAP-0001")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalValidations)
	assert.Equal(t, int64(2), stats.ActiveDevices)
	assert.Equal(t, int64(1), stats.FailedAttempts)
}

func TestRecordValidation_NoDeviceIDSkipsSlot(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, testLogger())

	verdict, err := engine.RecordValidation(context.Background(), ValidationRequest{
		LicenseKey: "LIC-NODEV-0001",
		UserID:     "user-1",
	})
	require.NoError(t, err)

	assert.True(t, verdict.Valid)
	assert.Equal(t, 0, verdict.ActiveDevices)

	stats, err := store.ReadStats(context.Background(), "LIC-NODEV-0001")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.ActiveDevices)
}

func TestRecordValidation_MalformedRequest(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, testLogger())
	ctx := context.Background()

	_, err := engine.RecordValidation(ctx, ValidationRequest{UserID: "user-1"})
	assert.ErrorIs(t, err, apperrors.ErrMalformedRequest)

	_, err = engine.RecordValidation(ctx, ValidationRequest{LicenseKey: "LIC-X"})
	assert.ErrorIs(t, err, apperrors.ErrMalformedRequest)

	// Nothing must be written for malformed requests
	activity, stats, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, activity)
	assert.Zero(t, stats)
}

func TestRecordValidation_PublishesAfterCommit(t *testing.T) {
	store := newFakeStore()
	pub := &capturingPublisher{}
	engine := NewEngine(store, testLogger(), WithPublisher(pub))

	_, err := engine.RecordValidation(context.Background(), ValidationRequest{
		LicenseKey: "LIC-PUB-0001",
		UserID:     "user-1",
		IPAddress:  "198.51.100.20",
	})
	require.NoError(t, err)

	events := pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, "LIC-PUB-0001", events[0].LicenseKey)
	assert.Equal(t, ActionValidation, events[0].Action)
	assert.Equal(t, OutcomeValid, events[0].Status)
}

func TestRecordValidation_NoPublishOnMalformed(t *testing.T) {
	store := newFakeStore()
	pub := &capturingPublisher{}
	engine := NewEngine(store, testLogger(), WithPublisher(pub))

	_, err := engine.RecordValidation(context.Background(), ValidationRequest{})
	require.Error(t, err)
	assert.Empty(t, pub.all())
}

func TestRecordValidation_ConcurrentSameLicense(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.seedLicense(License{
		Key:        "LIC-CONC-0001",
		Status:     StatusActive,
		Type:       TypePremium,
		ExpiresAt:  now.Add(365 * 24 * time.Hour),
		MaxDevices: 100,
	})
	engine := NewEngine(store, testLogger(), WithClock(fixedClock(now)))

	const n = 50
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := engine.RecordValidation(context.Background(), ValidationRequest{
				LicenseKey: "LIC-CONC-0001",
				UserID:     "user-1",
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	stats, err := store.ReadStats(context.Background(), "LIC-CONC-0001")
	require.NoError(t, err)
	assert.Equal(t, int64(n), stats.TotalValidations)
}
