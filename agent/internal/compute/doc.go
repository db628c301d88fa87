// Package compute derives values from consecutive scrapes of a source.
//
// Engine keeps the previous counter values per series and adds a per-minute
// rate to every counter sample seen in both scrapes. Counter resets yield a
// rate of 0. It also tracks the success of the last 20 scrapes per source
// and reports it as an uptime percentage.
//
// Engine.Process accepts an injectable time.Time so tests are deterministic.
package compute
