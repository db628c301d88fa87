// Package alerts evaluates threshold rules against the agent's ingest
// health (producer state, backlog, retry delay, certificate lifetime and
// dropped records) and posts firing and resolved alerts to Slack, Teams or
// plain HTTP webhooks. Each rule fires at most once per cooldown.
package alerts
