// Package config loads tasksync settings from defaults, an optional
// config.yaml and TASKSYNC_ environment variables, and validates them
// before any component starts.
package config
