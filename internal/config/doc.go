// Package config provides configuration loading and validation for the live
// dialog service. It handles YAML-based configuration with per-section
// validation, sensible defaults, and environment expansion for secrets.
package config
