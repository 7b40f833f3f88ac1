// Package services holds the application service layer sitting between the
// HTTP transport and the ledger engine. Services own per-call timeouts,
// tracing spans and metric recording; handlers stay thin.
package services
