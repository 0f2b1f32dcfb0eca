// Package config loads, normalizes, and validates tipline configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// TIPLINE_RECEIPT_SALT. The Config type centralizes every knob the daemon and
// CLI need so data, attachment, and log directories plus scheduler timing and
// mail transport settings are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
