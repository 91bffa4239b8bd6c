// Package config loads aer's TOML configuration.
//
// Load reads the file named by --config, ~/.config/aer/config.toml, or
// ./aer.toml, layers it over Default, expands ~ in paths, applies the
// AER_WORKER_BINARY and AER_LOG_LEVEL overrides, and validates the result.
// Unknown keys are rejected so typos surface instead of silently falling back
// to defaults.
package config
