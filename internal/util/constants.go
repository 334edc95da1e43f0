// Package util provides common utility functions and constants used across the
// port-console application. This package is kept dependency-free (no imports
// from other internal/* packages) so every layer can share it.
package util

import "time"

const (
	// AppName names the config directory, the log file and the binary.
	AppName = "port-console"

	// DefaultAPIURL is the API base used when config.yaml leaves api.url empty.
	// It matches the address `port-console dev-server` listens on by default.
	DefaultAPIURL = "http://127.0.0.1:8000/api/v1"

	// DefaultTimeoutSeconds bounds a single API request.
	DefaultTimeoutSeconds = 10

	// DefaultRateLimit and DefaultBurst configure the client-side request
	// limiter. A page refresh fans out into one rule and one users fetch per
	// port, so the burst must absorb a small server without stalling.
	DefaultRateLimit = 10.0
	DefaultBurst     = 5

	// DefaultRefreshSeconds is the fallback interval (in seconds) for the TUI
	// dashboard's periodic refresh of the open server. Used when config.yaml
	// has an invalid or missing ui.refresh_seconds value.
	// Used by: internal/ui (tickCmd) and internal/appconfig (Default, normalize).
	DefaultRefreshSeconds = 3

	// ReachabilityTimeout caps the doctor's API probe.
	ReachabilityTimeout = 5 * time.Second
)
