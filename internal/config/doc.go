// Package config loads, validates, and normalizes Turntable configuration.
//
// Configuration comes from a TOML file (~/.config/turntable/config.toml or a
// turntable.toml in the working directory), layered over built-in defaults.
// All path fields are tilde-expanded and made absolute during load so the
// rest of the codebase never deals with relative paths.
//
// The numeric pipeline tunables (smoothing window, padding factor, coverage
// threshold, obstruction tolerance) intentionally live here rather than as
// package constants; tests and operators override them per deployment.
package config
