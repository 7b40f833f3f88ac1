package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "licenseledger/internal/errors"
	"licenseledger/internal/ledger"
)

// storageErr tags err as a storage failure so the transport layer maps it
// to a generic 500 without leaking the driver message to the client.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperrors.ErrStorageUnavailable, err)
}

// Store is the Postgres-backed implementation of ledger.Store.
// All cross-request coordination happens through the database: concurrent
// validations of the same license serialize on the license row, which the
// ON CONFLICT DO UPDATE upsert locks for the rest of the transaction.
type Store struct {
	db *gorm.DB
}

// New creates a Store over an open GORM connection
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// InTx runs fn inside one database transaction
func (s *Store) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&storeTx{db: tx})
	})
}

// storeTx implements ledger.Tx over one open transaction
type storeTx struct {
	db *gorm.DB
}

func (t *storeTx) ResolveUser(ctx context.Context, userID string) (ledger.User, error) {
	rec := userModel{
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	// Insert-or-fetch: a concurrent first-sight insert loses the conflict
	// race silently and resolves to the existing row below.
	if err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&rec).Error; err != nil {
		return ledger.User{}, storageErr("resolve user", err)
	}
	if rec.ID == 0 {
		if err := t.db.WithContext(ctx).Where("user_id = ?", userID).Take(&rec).Error; err != nil {
			return ledger.User{}, storageErr("resolve user", err)
		}
	}
	return ledger.User{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Email:     rec.Email,
		Name:      rec.Name,
		CreatedAt: rec.CreatedAt,
	}, nil
}

func (t *storeTx) ResolveLicense(ctx context.Context, key string, defaults ledger.LicenseDefaults) (ledger.License, error) {
	now := time.Now().UTC()
	rec := licenseModel{
		LicenseKey: key,
		Status:     string(defaults.Status),
		Type:       string(defaults.Type),
		ExpiresAt:  defaults.ExpiresAt,
		MaxDevices: defaults.MaxDevices,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	// DO UPDATE (rather than DO NOTHING) is deliberate: it acquires the
	// row lock on the existing license, serializing every concurrent
	// validation of the same key for the rest of the transaction.
	if err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "license_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"updated_at": now,
		}),
	}).Create(&rec).Error; err != nil {
		return ledger.License{}, storageErr("resolve license", err)
	}
	// Re-read the canonical row; the upsert only reports the id.
	if err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("license_key = ?", key).Take(&rec).Error; err != nil {
		return ledger.License{}, storageErr("resolve license", err)
	}
	return ledger.License{
		ID:         rec.ID,
		Key:        rec.LicenseKey,
		Status:     ledger.LicenseStatus(rec.Status),
		Type:       ledger.LicenseType(rec.Type),
		ExpiresAt:  rec.ExpiresAt,
		MaxDevices: rec.MaxDevices,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}, nil
}

func (t *storeTx) LinkUserLicense(ctx context.Context, userID, licenseID int64) error {
	rec := userLicenseModel{
		UserID:    userID,
		LicenseID: licenseID,
		CreatedAt: time.Now().UTC(),
	}
	if err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "license_id"}},
		DoNothing: true,
	}).Create(&rec).Error; err != nil {
		return storageErr("link user license", err)
	}
	return nil
}

func (t *storeTx) TouchDevice(ctx context.Context, licenseID int64, device ledger.DeviceInfo, at time.Time) (bool, error) {
	res := t.db.WithContext(ctx).
		Model(&deviceActivationModel{}).
		Where("license_id = ? AND device_id = ?", licenseID, device.DeviceID).
		Updates(map[string]any{
			"device_name": device.DeviceName,
			"last_active": at,
			"is_active":   true,
		})
	if res.Error != nil {
		return false, storageErr("touch device", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (t *storeTx) CountActiveDevices(ctx context.Context, licenseID int64) (int, error) {
	var count int64
	err := t.db.WithContext(ctx).
		Model(&deviceActivationModel{}).
		Where("license_id = ? AND is_active", licenseID).
		Count(&count).Error
	if err != nil {
		return 0, storageErr("count active devices", err)
	}
	return int(count), nil
}

func (t *storeTx) InsertDevice(ctx context.Context, licenseID int64, device ledger.DeviceInfo, at time.Time) error {
	rec := deviceActivationModel{
		LicenseID:  licenseID,
		DeviceID:   device.DeviceID,
		DeviceName: device.DeviceName,
		LastActive: at,
		IsActive:   true,
	}
	if err := t.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return storageErr("insert device", err)
	}
	return nil
}

func (t *storeTx) AppendActivity(ctx context.Context, licenseID, userID int64, rec *ledger.ActivityRecord) error {
	row := activityRecordModel{
		LicenseID:      licenseID,
		UserID:         userID,
		LicenseKey:     rec.LicenseKey,
		ExternalUserID: rec.UserID,
		Action:         string(rec.Action),
		Status:         rec.Status,
		IPAddress:      rec.IPAddress,
		DeviceInfo:     rec.DeviceInfo,
		AdditionalInfo: rec.AdditionalInfo,
		CreatedAt:      rec.CreatedAt,
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return storageErr("append activity", err)
	}
	rec.ID = row.ID
	return nil
}

func (t *storeTx) BumpStats(ctx context.Context, licenseID int64, update ledger.StatsUpdate) error {
	// Counter arithmetic stays in SQL: read-then-write from application
	// code would race with concurrent validations of other licenses
	// sharing the row, and lose updates.
	assignments := map[string]any{
		"total_validations": gorm.Expr("license_stats.total_validations + 1"),
		"last_validation":   update.At,
		"last_ip":           update.IPAddress,
	}
	if update.Valid {
		if update.NewDevice {
			assignments["active_devices"] = gorm.Expr("license_stats.active_devices + 1")
		}
	} else {
		assignments["failed_attempts"] = gorm.Expr("license_stats.failed_attempts + 1")
	}

	at := update.At
	rec := licenseStatsModel{
		LicenseID:        licenseID,
		TotalValidations: 1,
		LastValidation:   &at,
		LastIP:           update.IPAddress,
	}
	if update.Valid && update.NewDevice {
		rec.ActiveDevices = 1
	}
	if !update.Valid {
		rec.FailedAttempts = 1
	}

	if err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "license_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&rec).Error; err != nil {
		return storageErr("bump stats", err)
	}
	return nil
}

// ReadStats returns the aggregate view for one license key. An unknown key
// yields zero-valued stats rather than an error.
func (s *Store) ReadStats(ctx context.Context, licenseKey string) (ledger.LicenseStats, error) {
	var rec licenseStatsModel
	err := s.db.WithContext(ctx).
		Table("license_stats").
		Select("license_stats.*").
		Joins("JOIN licenses ON licenses.id = license_stats.license_id").
		Where("licenses.license_key = ?", licenseKey).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.LicenseStats{LicenseKey: licenseKey}, nil
		}
		return ledger.LicenseStats{}, storageErr("read stats", err)
	}
	return ledger.LicenseStats{
		LicenseKey:       licenseKey,
		TotalValidations: rec.TotalValidations,
		LastValidation:   rec.LastValidation,
		ActiveDevices:    rec.ActiveDevices,
		FailedAttempts:   rec.FailedAttempts,
		LastIP:           rec.LastIP,
	}, nil
}

// RecentActivity returns the most recent ledger rows for one license
func (s *Store) RecentActivity(ctx context.Context, licenseKey string, limit int) ([]ledger.ActivityRecord, error) {
	var rows []activityRecordModel
	err := s.db.WithContext(ctx).
		Where("license_key = ?", licenseKey).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("recent activity", err)
	}
	return toRecords(rows), nil
}

// RecentActivityAll returns the most recent ledger rows across all licenses
func (s *Store) RecentActivityAll(ctx context.Context, limit int) ([]ledger.ActivityRecord, error) {
	var rows []activityRecordModel
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("recent activity", err)
	}
	return toRecords(rows), nil
}

const searchLimitCap = 1000

// SearchActivity returns ledger rows matching the filter, most recent first
func (s *Store) SearchActivity(ctx context.Context, filter ledger.ActivityFilter) ([]ledger.ActivityRecord, error) {
	q := s.db.WithContext(ctx).Model(&activityRecordModel{})

	if filter.LicenseKey != "" {
		q = q.Where("license_key = ?", filter.LicenseKey)
	}
	if filter.UserID != "" {
		q = q.Where("external_user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Start != nil {
		q = q.Where("created_at >= ?", *filter.Start)
	}
	if filter.End != nil {
		q = q.Where("created_at <= ?", *filter.End)
	}

	limit := filter.Limit
	if limit <= 0 || limit > searchLimitCap {
		limit = searchLimitCap
	}

	var rows []activityRecordModel
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, storageErr("search activity", err)
	}
	return toRecords(rows), nil
}

// WindowActivity returns activity and aggregate counts for one license
// within a time window
func (s *Store) WindowActivity(ctx context.Context, licenseKey string, since time.Time) ([]ledger.ActivityRecord, ledger.WindowStats, error) {
	var rows []activityRecordModel
	err := s.db.WithContext(ctx).
		Where("license_key = ? AND created_at >= ?", licenseKey, since).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, ledger.WindowStats{}, storageErr("window activity", err)
	}

	var stats ledger.WindowStats
	err = s.db.WithContext(ctx).Raw(`
		SELECT
			COUNT(*) AS total_attempts,
			COALESCE(SUM(CASE WHEN status = 'valid' THEN 1 ELSE 0 END), 0) AS successful_count,
			COALESCE(SUM(CASE WHEN status <> 'valid' THEN 1 ELSE 0 END), 0) AS failed_count,
			COUNT(DISTINCT ip_address) AS unique_ips,
			COUNT(DISTINCT device_info) AS unique_devices
		FROM activity_records
		WHERE license_key = ? AND created_at >= ?`,
		licenseKey, since).Scan(&stats).Error
	if err != nil {
		return nil, ledger.WindowStats{}, storageErr("window stats", err)
	}

	return toRecords(rows), stats, nil
}

// Summary aggregates totals across every license
func (s *Store) Summary(ctx context.Context) (ledger.Summary, error) {
	var summary ledger.Summary
	err := s.db.WithContext(ctx).Raw(`
		SELECT
			COUNT(*) AS total_licenses,
			COALESCE(SUM(total_validations), 0) AS total_validations,
			COALESCE(SUM(active_devices), 0) AS total_active_devices,
			COALESCE(SUM(failed_attempts), 0) AS total_failed_attempts
		FROM license_stats`).Scan(&summary).Error
	if err != nil {
		return ledger.Summary{}, storageErr("summary", err)
	}
	return summary, nil
}

// Counts reports ledger and stats table sizes for the debug endpoint
func (s *Store) Counts(ctx context.Context) (int64, int64, error) {
	var activity, stats int64
	if err := s.db.WithContext(ctx).Model(&activityRecordModel{}).Count(&activity).Error; err != nil {
		return 0, 0, storageErr("count activity", err)
	}
	if err := s.db.WithContext(ctx).Model(&licenseStatsModel{}).Count(&stats).Error; err != nil {
		return 0, 0, storageErr("count stats", err)
	}
	return activity, stats, nil
}

// Ping verifies database reachability
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("gorm sql db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func toRecords(rows []activityRecordModel) []ledger.ActivityRecord {
	records := make([]ledger.ActivityRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, ledger.ActivityRecord{
			ID:             row.ID,
			LicenseKey:     row.LicenseKey,
			UserID:         row.ExternalUserID,
			Action:         ledger.Action(row.Action),
			Status:         row.Status,
			IPAddress:      row.IPAddress,
			DeviceInfo:     row.DeviceInfo,
			AdditionalInfo: row.AdditionalInfo,
			CreatedAt:      row.CreatedAt,
		})
	}
	return records
}
