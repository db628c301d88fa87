// Package security inspects the TLS certificate of the ingest service.
//
// The agent runs Check once at startup and logs a warning when the
// certificate is expiring (under 30 days), expired or cannot be verified,
// before the producer's first connection attempt would fail on it.
package security
