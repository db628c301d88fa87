// Package store keeps the documents received by the ingest sink in memory,
// in arrival order, with TTL and capacity eviction. Documents are keyed by
// ULID so the ID doubles as a stream cursor.
package store
