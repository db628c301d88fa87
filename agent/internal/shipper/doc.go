// Package shipper turns scrapes into log records and hands them to the
// Lumberjack producer.
//
// Shipper.Run scrapes every source on the configured interval. Each source
// yields one "scrape" summary record (sample count, duration, uptime, error)
// plus one record per sample with its labels and, for counters, the
// per-minute rate from compute.Engine.
//
// Send never blocks. When the producer's pending buffer is full the record is
// dropped and counted; a fatal producer error stops Run.
//
// Drain terminates the producer on shutdown and waits, bounded by a timeout,
// for every buffered record to be acknowledged.
package shipper
