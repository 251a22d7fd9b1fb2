// Package config provides configuration loading and validation for the speech orchestrator.
// Static configuration comes from a YAML file with environment overrides; runtime
// settings (selected backend, mute, autosend, prompt) live behind the Store interface
// with in-memory and Redis implementations.
package config
