// Package scraper polls Prometheus text expositions and turns them into
// samples the shipper converts to log records.
//
// One generic scraper serves every source type; the type only selects the
// default metric name prefixes (otelcol_, prometheus_, loki_, fluentbit_,
// or everything for http). Summaries and histograms are expanded into their
// _sum, _count, quantile and _bucket series.
//
// Authentication (mTLS, API key, bearer token, basic) is handled by the
// shared authTransport in base.go; New builds the *http.Client once per
// source.
package scraper
