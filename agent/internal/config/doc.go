// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{LogLevel, Agent}: the full tree parsed from YAML
//   - AgentConfig: Lumberjack ingest settings (server_endpoint, port,
//     tenant_id, token_env, supertenant, buffer_size, max_unacked, retry and
//     idle timings, record_type, tls), query_endpoint, metrics_addr,
//     scrape_interval and sources[]
//   - Source: id, type (otelcol|prometheus|loki|fluentbit|http), endpoint,
//     include prefixes, auth, tls
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none); Key(), Token() and
//     Password() resolve secrets from environment variables
//
// Load(path) reads the YAML file, applies defaults (port 9091, 30s scrape,
// record type "metrics", log level warn), then validates required fields
// and enums. LOGMET_LOG_LEVEL overrides log_level.
//
// Watch(ctx, path, onChange) uses fsnotify to detect changes. The agent only
// applies the new log level; the ingest connection is never reconfigured at
// runtime.
package config
