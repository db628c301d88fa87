// Package api implements the HTTP side of the ingest sink.
//
// Routes:
//
//	POST /elasticsearch/logstash-{tenant}-*/{type}/_search  search stored records
//	GET  /api/v1/stats                                      document counts per tenant and type
//	GET  /api/v1/health                                     liveness, no credentials
//
// Search and stats require X-Auth-Project-Id and X-Auth-Token. A tenant may
// only search its own index; a supertenant may search any. The query body
// accepts size plus one of match_all, term, match, bool.must or filtered,
// and the response mirrors the Elasticsearch hits envelope.
package api
