// Package config loads server and CLI settings from the environment via
// envconfig, optionally overridden by a TOML file.
package config
