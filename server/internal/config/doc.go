// Package config loads the ingest sink configuration from the `server:`
// section of config.yaml (the `agent:` key is ignored by the sink binary).
//
// Config fields:
//   - LumberjackPort: TLS port for producer connections (default 9091)
//   - HTTPPort      : search API, health and WebSocket stream (default 8080)
//   - TLS           : certificate, key and optional client CA
//   - Tenants       : accepted tenant ids; tokens are read from token_env
//   - RecordTTL     : how long a document is searchable (default 1h)
//   - MaxRecords    : store capacity (default 10000)
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
