package ledger

import (
	"context"
	"time"
)

// StatsUpdate describes the aggregate adjustment for one validation.
// Implementations must apply it as single-statement arithmetic inside the
// enclosing transaction, never as a read-modify-write from application code.
type StatsUpdate struct {
	Valid     bool
	NewDevice bool
	IPAddress string
	At        time.Time
}

// Tx exposes the write primitives available inside one unit of work.
// Every method sees the same transaction; an error from any of them
// aborts the whole unit.
type Tx interface {
	// ResolveUser upserts the canonical user row for a caller-supplied id.
	// Concurrent first-sight creation for the same id resolves to the
	// existing row instead of surfacing a duplicate-key error.
	ResolveUser(ctx context.Context, userID string) (User, error)

	// ResolveLicense upserts the canonical license row. The upsert takes the
	// row lock, which serializes concurrent validations of the same key for
	// the remainder of the transaction.
	ResolveLicense(ctx context.Context, key string, defaults LicenseDefaults) (License, error)

	// LinkUserLicense records the user/license association, idempotently.
	LinkUserLicense(ctx context.Context, userID, licenseID int64) error

	// TouchDevice refreshes liveness for a known device. Returns false when
	// the (license, device) pair has never been seen.
	TouchDevice(ctx context.Context, licenseID int64, device DeviceInfo, at time.Time) (bool, error)

	// CountActiveDevices counts devices currently active for the license.
	CountActiveDevices(ctx context.Context, licenseID int64) (int, error)

	// InsertDevice registers a new active device for the license.
	InsertDevice(ctx context.Context, licenseID int64, device DeviceInfo, at time.Time) error

	// AppendActivity inserts one immutable ledger row and fills in its id.
	AppendActivity(ctx context.Context, licenseID, userID int64, rec *ActivityRecord) error

	// BumpStats applies the aggregate update for one validation.
	BumpStats(ctx context.Context, licenseID int64, update StatsUpdate) error
}

// Store is the transactional backing store behind the ledger engine.
// Read methods observe committed state only.
type Store interface {
	// InTx runs fn inside one transaction. A non-nil error from fn rolls
	// everything back; ctx cancellation aborts the transaction.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	ReadStats(ctx context.Context, licenseKey string) (LicenseStats, error)
	RecentActivity(ctx context.Context, licenseKey string, limit int) ([]ActivityRecord, error)
	SearchActivity(ctx context.Context, filter ActivityFilter) ([]ActivityRecord, error)
	WindowActivity(ctx context.Context, licenseKey string, since time.Time) ([]ActivityRecord, WindowStats, error)
	Summary(ctx context.Context) (Summary, error)
	RecentActivityAll(ctx context.Context, limit int) ([]ActivityRecord, error)

	// Counts reports table sizes for the debug endpoint.
	Counts(ctx context.Context) (activity int64, stats int64, err error)

	// Ping verifies store reachability for readiness checks.
	Ping(ctx context.Context) error
}

// Publisher receives committed validation events. Implementations must not
// block: publication happens on the request goroutine after commit.
type Publisher interface {
	Publish(event Event)
}
