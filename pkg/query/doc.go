// Package query searches records stored by the Logmet service through its
// Elasticsearch-compatible HTTP interface.
//
// Client.Search posts a query body to
// /elasticsearch/logstash-{tenant}-*/{type}/_search with the X-Auth-Token and
// X-Auth-Project-Id headers and returns the hits.hits array. A response
// without hits yields an empty slice, not an error.
package query
