package ledger

import (
	"time"
)

// computeVerdict decides validity from the canonical license row.
// Business-rule rejections (expired, inactive) are verdicts, not errors.
func computeVerdict(lic License, now time.Time) Verdict {
	v := Verdict{
		Type:          lic.Type,
		Status:        lic.Status,
		ExpiresAt:     lic.ExpiresAt,
		DaysRemaining: daysRemaining(lic.ExpiresAt, now),
		MaxDevices:    lic.MaxDevices,
	}

	switch {
	case lic.Status != StatusActive:
		v.Valid = false
		v.Reason = ReasonInactive
	case !lic.ExpiresAt.After(now):
		v.Valid = false
		v.Reason = ReasonExpired
		v.DaysRemaining = 0
	default:
		v.Valid = true
	}

	return v
}

// daysRemaining counts whole days until expiry, never negative
func daysRemaining(expiresAt, now time.Time) int {
	if !expiresAt.After(now) {
		return 0
	}
	return int(expiresAt.Sub(now).Hours() / 24)
}
