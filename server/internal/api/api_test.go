package api_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logmet/logmet-go/internal/jsoncodec"
	"github.com/logmet/logmet-go/server/internal/api"
	"github.com/logmet/logmet-go/server/internal/auth"
	"github.com/logmet/logmet-go/server/internal/config"
	"github.com/logmet/logmet-go/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

func newHandler(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()
	t.Setenv("API_TEST_SPACE", "space-token")
	t.Setenv("API_TEST_OTHER", "other-token")
	t.Setenv("API_TEST_SUPER", "super-token")
	v := auth.NewVerifier([]config.Tenant{
		{ID: "space-1", TokenEnv: "API_TEST_SPACE"},
		{ID: "space-2", TokenEnv: "API_TEST_OTHER"},
		{ID: "super", TokenEnv: "API_TEST_SUPER", SuperTenant: true},
	})
	st := store.New(time.Hour, 0)
	st.Put("space-1", "syslog", map[string]string{"level": "info", "message": "service started", "n": "1"})
	st.Put("space-1", "syslog", map[string]string{"level": "error", "message": "Disk FULL on /var", "n": "2"})
	st.Put("space-1", "metrics", map[string]string{"level": "error", "n": "3"})
	st.Put("space-2", "syslog", map[string]string{"level": "error", "n": "4"})
	st.Put("space-1", "syslog", map[string]string{"level": "error", "message": "retrying", "n": "5"})
	return api.New(st, v), st
}

func search(t *testing.T, h http.Handler, tenant, token, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderProject, tenant)
	req.Header.Set(auth.HeaderToken, token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, jsoncodec.Unmarshal(rr.Body.Bytes(), v), "body: %s", rr.Body.String())
}

func ns(hits []api.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Source["n"]
	}
	return out
}

const syslogPath = "/elasticsearch/logstash-space-1-*/syslog/_search"

// --- /elasticsearch/.../_search --------------------------------------------

func TestSearch_Queries(t *testing.T) {
	h, _ := newHandler(t)

	cases := []struct {
		name  string
		body  string
		total int
		want  []string
	}{
		{"empty body", ``, 3, []string{"5", "2", "1"}},
		{"match all", `{"query":{"match_all":{}}}`, 3, []string{"5", "2", "1"}},
		{"size", `{"size":1,"query":{"match_all":{}}}`, 3, []string{"5"}},
		{"term", `{"query":{"term":{"level":"error"}}}`, 2, []string{"5", "2"}},
		{"term value object", `{"query":{"term":{"n":{"value":1}}}}`, 1, []string{"1"}},
		{"match is case-insensitive", `{"query":{"match":{"message":"disk"}}}`, 1, []string{"2"}},
		{"match query object", `{"query":{"match":{"message":{"query":"started retrying"}}}}`, 2, []string{"5", "1"}},
		{"filtered term", `{"query":{"filtered":{"filter":{"term":{"level":"info"}}}}}`, 1, []string{"1"}},
		{"filtered query and filter", `{"query":{"filtered":{"query":{"match":{"message":"retrying"}},"filter":{"term":{"level":"error"}}}}}`, 1, []string{"5"}},
		{"bool must", `{"query":{"bool":{"must":[{"term":{"level":"error"}},{"match":{"message":"full"}}]}}}`, 1, []string{"2"}},
		{"no match", `{"query":{"term":{"level":"debug"}}}`, 0, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := search(t, h, "space-1", "space-token", syslogPath, tc.body)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

			var resp api.SearchResponse
			decode(t, rr, &resp)
			assert.Equal(t, tc.total, resp.Hits.Total)
			assert.Equal(t, tc.want, ns(resp.Hits.Hits))
		})
	}
}

func TestSearch_HitShape(t *testing.T) {
	h, _ := newHandler(t)
	rr := search(t, h, "space-1", "space-token", syslogPath, `{"size":1}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var raw map[string]any
	decode(t, rr, &raw)
	assert.Contains(t, raw, "took")
	hits := raw["hits"].(map[string]any)
	assert.EqualValues(t, 3, hits["total"])
	hit := hits["hits"].([]any)[0].(map[string]any)
	assert.Equal(t, "syslog", hit["_type"])
	assert.Regexp(t, `^logstash-space-1-\d{4}\.\d{2}\.\d{2}$`, hit["_index"])
	assert.Len(t, hit["_id"], 26)
	assert.Equal(t, "retrying", hit["_source"].(map[string]any)["message"])
}

func TestSearch_Authorization(t *testing.T) {
	h, _ := newHandler(t)

	rr := search(t, h, "space-1", "wrong", syslogPath, ``)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = search(t, h, "space-2", "other-token", syslogPath, ``)
	assert.Equal(t, http.StatusForbidden, rr.Code, "a space cannot read another space")

	rr = search(t, h, "super", "super-token", syslogPath, ``)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp api.SearchResponse
	decode(t, rr, &resp)
	assert.Equal(t, 3, resp.Hits.Total, "a supertenant reads any index")
}

func TestSearch_BadRequests(t *testing.T) {
	h, _ := newHandler(t)

	for name, body := range map[string]string{
		"malformed":       `{"query":`,
		"unsupported":     `{"query":{"range":{"n":{"gte":1}}}}`,
		"negative size":   `{"size":-1}`,
		"two clauses":     `{"query":{"term":{"a":"b"},"match":{"c":"d"}}}`,
		"term not scalar": `{"query":{"term":{"a":["b"]}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			rr := search(t, h, "space-1", "space-token", syslogPath, body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}

	for _, path := range []string{
		"/elasticsearch/other-space-1-*/syslog/_search",
		"/elasticsearch/logstash-space-1-*/syslog/_count",
		"/elasticsearch/logstash--*/syslog/_search",
		"/elasticsearch/logstash-space-1-*/_search",
	} {
		rr := search(t, h, "space-1", "space-token", path, ``)
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
	}

	req := httptest.NewRequest(http.MethodDelete, syslogPath, nil)
	req.Header.Set(auth.HeaderProject, "space-1")
	req.Header.Set(auth.HeaderToken, "space-token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

// --- /api/v1/health and /api/v1/stats --------------------------------------

func TestHealth(t *testing.T) {
	h, st := newHandler(t)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp api.HealthResponse
	decode(t, rr, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 5, resp.Documents)
	assert.Equal(t, st.Latest(), resp.Latest)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestStats(t *testing.T) {
	h, _ := newHandler(t)
	get := func(tenant, token string) api.StatsResponse {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
		req.Header.Set(auth.HeaderProject, tenant)
		req.Header.Set(auth.HeaderToken, token)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
		var resp api.StatsResponse
		decode(t, rr, &resp)
		return resp
	}

	own := get("space-1", "space-token")
	assert.Equal(t, 4, own.Documents)
	assert.Equal(t, map[string]map[string]int{"space-1": {"syslog": 3, "metrics": 1}}, own.Tenants)

	all := get("super", "super-token")
	assert.Equal(t, 5, all.Documents)
	assert.Len(t, all.Tenants, 2)
}
