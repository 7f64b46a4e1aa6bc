// Package config loads, normalizes, and validates upright configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files (or YAML when the file carries a .yaml/.yml
// extension), and honours environment fallbacks such as
// UPRIGHT_DECIDER_API_KEY. The Config type centralizes every knob the daemon
// and CLI need, so the input/output roots, pipeline timing, and decider
// settings are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
