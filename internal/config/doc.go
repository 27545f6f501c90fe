// Package config loads the daemon configuration from a JSON file and applies
// defaults for the server address, storage driver, event bus, and acceptance
// rule. Relative paths are resolved against the configuration directory.
package config
