// Package notifications publishes job lifecycle events to ntfy.
//
// NewService returns a no-op implementation when no topic is configured.
// Each event kind can be switched off in config.toml; suppressed events
// return nil without touching the network.
package notifications
