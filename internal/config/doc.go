// Package config loads the bot configuration from JSON or YAML, fills
// defaults, validates it and publishes hot reloads to subscribers.
package config
