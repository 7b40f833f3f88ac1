// Package config provides centralized configuration management for the
// license ledger service. It loads configuration from environment variables
// (prefix LEDGER_) and an optional YAML file, validates it, and exposes a
// type-safe API to the rest of the application.
//
// Environment variables take precedence over file values. The API key and
// database URL have no usable defaults and must be provided explicitly in
// any real deployment.
package config
