package ledger

import (
	"encoding/json"
	"time"
)

// LicenseStatus is the lifecycle state of a license
type LicenseStatus string

const (
	StatusActive   LicenseStatus = "active"
	StatusInactive LicenseStatus = "inactive"
	StatusExpired  LicenseStatus = "expired"
)

// LicenseType is the product tier of a license
type LicenseType string

const (
	TypeTrial   LicenseType = "trial"
	TypeBasic   LicenseType = "basic"
	TypePremium LicenseType = "premium"
)

// Action identifies the kind of ledger event
type Action string

const (
	ActionValidation   Action = "validation"
	ActionActivation   Action = "activation"
	ActionDeactivation Action = "deactivation"
	ActionRenewal      Action = "renewal"
)

// Outcome status strings recorded on activity rows
const (
	OutcomeValid   = "valid"
	OutcomeInvalid = "invalid"
)

// Rejection reasons carried on invalid verdicts
const (
	ReasonExpired            = "expired"
	ReasonInactive           = "inactive"
	ReasonDeviceLimitReached = "device_limit_reached"
)

// User is the canonical record for a caller-supplied user identity.
// Created lazily on first validation, never deleted.
type User struct {
	ID        int64
	UserID    string
	Email     string
	Name      string
	CreatedAt time.Time
}

// License is the canonical record for a license key
type License struct {
	ID         int64
	Key        string
	Status     LicenseStatus
	Type       LicenseType
	ExpiresAt  time.Time
	MaxDevices int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LicenseDefaults are applied when a license key is seen for the first time
type LicenseDefaults struct {
	Status     LicenseStatus
	Type       LicenseType
	ExpiresAt  time.Time
	MaxDevices int
}

// DefaultLicenseWindow is the expiry window for lazily created licenses
const DefaultLicenseWindow = 30 * 24 * time.Hour

// DeviceInfo identifies the device presenting a license key
type DeviceInfo struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name,omitempty"`
}

// ActivationResult reports the outcome of a device activation attempt
type ActivationResult struct {
	ActiveDevices int
	Admitted      bool
	NewDevice     bool
}

// ActivityRecord is one immutable row of the audit ledger
type ActivityRecord struct {
	ID             int64           `json:"id"`
	LicenseKey     string          `json:"license_key"`
	UserID         string          `json:"user_id"`
	Action         Action          `json:"action"`
	Status         string          `json:"status"`
	IPAddress      string          `json:"ip_address,omitempty"`
	DeviceInfo     json.RawMessage `json:"device_info,omitempty"`
	AdditionalInfo string          `json:"additional_info,omitempty"`
	CreatedAt      time.Time       `json:"timestamp"`
}

// LicenseStats is the per-license aggregate view.
// It is materialized in the same transaction as each ledger append, so a
// read issued after a validation returns always reflects that validation.
type LicenseStats struct {
	LicenseKey       string     `json:"license_key"`
	TotalValidations int64      `json:"total_validations"`
	LastValidation   *time.Time `json:"last_validation,omitempty"`
	ActiveDevices    int64      `json:"active_devices"`
	FailedAttempts   int64      `json:"failed_attempts"`
	LastIP           string     `json:"last_ip,omitempty"`
}

// Summary aggregates across all licenses
type Summary struct {
	TotalLicenses       int64 `json:"total_licenses"`
	TotalValidations    int64 `json:"total_validations"`
	TotalActiveDevices  int64 `json:"total_active_devices"`
	TotalFailedAttempts int64 `json:"total_failed_attempts"`
}

// WindowStats summarizes activity for one license over a time window
type WindowStats struct {
	TotalAttempts   int64 `json:"total_attempts"`
	SuccessfulCount int64 `json:"successful_count"`
	FailedCount     int64 `json:"failed_count"`
	UniqueIPs       int64 `json:"unique_ips"`
	UniqueDevices   int64 `json:"unique_devices"`
}

// ActivityFilter narrows an activity search
type ActivityFilter struct {
	LicenseKey string
	UserID     string
	Status     string
	Start      *time.Time
	End        *time.Time
	Limit      int
}

// ValidationRequest is one inbound validation attempt
type ValidationRequest struct {
	LicenseKey     string
	UserID         string
	Device         DeviceInfo
	AdditionalInfo string
	IPAddress      string
}

// Verdict is the validity decision for a single validation request
type Verdict struct {
	Valid         bool          `json:"valid"`
	Type          LicenseType   `json:"type,omitempty"`
	Status        LicenseStatus `json:"status,omitempty"`
	ExpiresAt     time.Time     `json:"expires_at"`
	DaysRemaining int           `json:"days_remaining"`
	ActiveDevices int           `json:"active_devices"`
	MaxDevices    int           `json:"max_devices"`
	Reason        string        `json:"reason,omitempty"`

	// NewDevice reports whether this validation admitted a device for the
	// first time. Internal to metric recording, not part of the response.
	NewDevice bool `json:"-"`
}

// Event is a committed validation broadcast to feed subscribers
type Event struct {
	LicenseKey string    `json:"license_key"`
	UserID     string    `json:"user_id"`
	Action     Action    `json:"action"`
	Status     string    `json:"status"`
	IPAddress  string    `json:"ip_address,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
