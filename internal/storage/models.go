package storage

import (
	"time"
)

// userModel is the canonical user row. Created lazily on first validation,
// never deleted by this subsystem.
type userModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    string    `gorm:"column:user_id;uniqueIndex;not null"`
	Email     string    `gorm:"column:email"`
	Name      string    `gorm:"column:name"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (userModel) TableName() string { return "users" }

// licenseModel is the canonical license row
type licenseModel struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	LicenseKey string    `gorm:"column:license_key;uniqueIndex;not null"`
	Status     string    `gorm:"column:status;not null"`
	Type       string    `gorm:"column:type;not null"`
	ExpiresAt  time.Time `gorm:"column:expires_at;not null"`
	MaxDevices int       `gorm:"column:max_devices;not null;default:1"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (licenseModel) TableName() string { return "licenses" }

// userLicenseModel associates users with licenses; append-only
type userLicenseModel struct {
	UserID    int64     `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	LicenseID int64     `gorm:"column:license_id;primaryKey;autoIncrement:false"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (userLicenseModel) TableName() string { return "user_licenses" }

// deviceActivationModel holds one row per (license, device) pair.
// Re-activation updates the row in place; the composite unique index
// guarantees a device is never counted active twice.
type deviceActivationModel struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	LicenseID  int64     `gorm:"column:license_id;not null;uniqueIndex:idx_license_device"`
	DeviceID   string    `gorm:"column:device_id;not null;uniqueIndex:idx_license_device"`
	DeviceName string    `gorm:"column:device_name"`
	LastActive time.Time `gorm:"column:last_active"`
	IsActive   bool      `gorm:"column:is_active;not null;default:true"`
}

func (deviceActivationModel) TableName() string { return "device_activations" }

// activityRecordModel is the append-only audit ledger. Rows are never
// updated or deleted after insert.
type activityRecordModel struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	LicenseID      int64     `gorm:"column:license_id;not null;index"`
	UserID         int64     `gorm:"column:user_id;not null;index"`
	LicenseKey     string    `gorm:"column:license_key;not null;index"`
	ExternalUserID string    `gorm:"column:external_user_id;not null"`
	Action         string    `gorm:"column:action;not null"`
	Status         string    `gorm:"column:status;not null"`
	IPAddress      string    `gorm:"column:ip_address"`
	DeviceInfo     []byte    `gorm:"column:device_info;type:jsonb"`
	AdditionalInfo string    `gorm:"column:additional_info"`
	CreatedAt      time.Time `gorm:"column:created_at;index"`
}

func (activityRecordModel) TableName() string { return "activity_records" }

// licenseStatsModel is the materialized per-license aggregate. Updated in
// the same transaction as the corresponding ledger append.
type licenseStatsModel struct {
	LicenseID        int64      `gorm:"column:license_id;primaryKey;autoIncrement:false"`
	TotalValidations int64      `gorm:"column:total_validations;not null;default:0"`
	LastValidation   *time.Time `gorm:"column:last_validation"`
	ActiveDevices    int64      `gorm:"column:active_devices;not null;default:0"`
	FailedAttempts   int64      `gorm:"column:failed_attempts;not null;default:0"`
	LastIP           string     `gorm:"column:last_ip"`
}

func (licenseStatsModel) TableName() string { return "license_stats" }
