// Package config loads, normalizes, and validates rehearse configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// REHEARSE_API_TOKEN. The Config type centralizes every knob the capture
// view and CLI need: device constraints, guidance thresholds, server
// endpoints, and result polling policy.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
