package errors

import "errors"

// Sentinel errors for the license ledger domain. Rejected licenses are
// verdicts, not errors; these cover the cases where processing itself
// fails.
var (
	ErrLicenseNotFound    = errors.New("license not found")
	ErrMalformedRequest   = errors.New("malformed request")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
