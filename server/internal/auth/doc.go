// Package auth checks tenant credentials for the ingest sink.
//
// Verifier.Verify validates the tenant id and token carried by a Lumberjack
// Authentication frame; only tenants configured as supertenants may use the
// supertenant frame. Verifier.Middleware applies the same check to the
// X-Auth-Project-Id and X-Auth-Token headers of the search API.
package auth
