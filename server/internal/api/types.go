package api

// SearchResponse is the payload for POST /elasticsearch/{index}/{type}/_search.
type SearchResponse struct {
	Took     int64      `json:"took"`
	TimedOut bool       `json:"timed_out"`
	Hits     HitsResult `json:"hits"`
}

// HitsResult wraps the matching documents.
type HitsResult struct {
	Total    int     `json:"total"`
	MaxScore float64 `json:"max_score"`
	Hits     []Hit   `json:"hits"`
}

// Hit is one returned document.
type Hit struct {
	Index  string            `json:"_index"`
	Type   string            `json:"_type"`
	ID     string            `json:"_id"`
	Score  float64           `json:"_score"`
	Source map[string]string `json:"_source"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Documents int    `json:"documents"`
	Latest    string `json:"latest,omitempty"`
}

// StatsResponse is the payload for GET /api/v1/stats: document counts by
// tenant and then by type.
type StatsResponse struct {
	Documents int                       `json:"documents"`
	Tenants   map[string]map[string]int `json:"tenants"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
