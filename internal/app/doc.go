// Package app wires configuration, storage, the ledger engine, the
// websocket hub and the HTTP surface into a runnable server.
package app
