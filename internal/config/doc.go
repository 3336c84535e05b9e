// Package config loads server configuration from JSON or YAML files with
// JROW_* environment variable overlays on top of built-in defaults.
package config
