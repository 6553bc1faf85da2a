// Package config loads, normalizes, and validates docbatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DOCBATCH_API_TOKEN and DOCBATCH_POSTGRES_DSN. The Config type centralizes
// every knob the daemon and CLI need: worker pool limits, retry policy,
// checkpoint cadence, store selection, and monitor schedule.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
