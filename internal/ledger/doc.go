// Package ledger implements the license ledger engine: the transactional
// core that resolves license keys and users to canonical records, enforces
// the per-license device activation cap, appends immutable activity records,
// and maintains per-license aggregate statistics.
//
// All four steps of a validation request execute inside a single storage
// transaction. Two concurrent validations of the same license key serialize
// on the license row, so aggregate counters never lose updates and the
// device cap is never over-provisioned.
//
// The engine is storage-agnostic: it talks to a Store implementation
// (see internal/storage for the Postgres one) and publishes committed
// events to an optional Publisher (the websocket activity feed).
package ledger
