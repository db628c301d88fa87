package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logmet/logmet-go/agent/internal/config"
)

const exposition = `
# HELP otelcol_exporter_sent_log_records Number of log records sent.
# TYPE otelcol_exporter_sent_log_records counter
otelcol_exporter_sent_log_records{exporter="logmet"} 1200
# HELP otelcol_exporter_queue_size Current queue size.
# TYPE otelcol_exporter_queue_size gauge
otelcol_exporter_queue_size{exporter="logmet"} 7
# HELP otelcol_process_uptime Uptime.
# TYPE otelcol_process_uptime untyped
otelcol_process_uptime 3600 1700000000000
# HELP otelcol_rpc_duration_seconds RPC latency.
# TYPE otelcol_rpc_duration_seconds summary
otelcol_rpc_duration_seconds{quantile="0.5"} 0.02
otelcol_rpc_duration_seconds{quantile="0.99"} 0.3
otelcol_rpc_duration_seconds_sum 12.5
otelcol_rpc_duration_seconds_count 400
# HELP otelcol_batch_size Batch sizes.
# TYPE otelcol_batch_size histogram
otelcol_batch_size_bucket{le="10"} 3
otelcol_batch_size_bucket{le="+Inf"} 5
otelcol_batch_size_sum 42
otelcol_batch_size_count 5
# HELP go_goroutines Goroutines.
# TYPE go_goroutines gauge
go_goroutines 12
`

func serve(t *testing.T, body string, check func(*http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func bySeries(samples []Sample) map[string]Sample {
	out := make(map[string]Sample, len(samples))
	for _, s := range samples {
		key := s.Metric
		if q, ok := s.Labels["quantile"]; ok {
			key += "{quantile=" + q + "}"
		}
		if le, ok := s.Labels["le"]; ok {
			key += "{le=" + le + "}"
		}
		out[key] = s
	}
	return out
}

func TestScrape_DefaultPrefixesByType(t *testing.T) {
	srv := serve(t, exposition, nil)
	s, err := New(config.Source{ID: "otel", Type: "otelcol", Endpoint: srv.URL})
	require.NoError(t, err)

	res, err := s.Scrape(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, "otel", res.SourceID)

	got := bySeries(res.Samples)
	assert.NotContains(t, got, "go_goroutines")

	sent := got["otelcol_exporter_sent_log_records"]
	assert.Equal(t, KindCounter, sent.Kind)
	assert.Equal(t, 1200.0, sent.Value)
	assert.Equal(t, map[string]string{"exporter": "logmet"}, sent.Labels)

	assert.Equal(t, KindGauge, got["otelcol_exporter_queue_size"].Kind)

	uptime := got["otelcol_process_uptime"]
	assert.Equal(t, KindUntyped, uptime.Kind)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), uptime.Timestamp)

	assert.Equal(t, 0.3, got["otelcol_rpc_duration_seconds{quantile=0.99}"].Value)
	assert.Equal(t, 400.0, got["otelcol_rpc_duration_seconds_count"].Value)
	assert.Equal(t, 12.5, got["otelcol_rpc_duration_seconds_sum"].Value)

	assert.Equal(t, 5.0, got["otelcol_batch_size_bucket{le=+Inf}"].Value)
	assert.Equal(t, KindHistogram, got["otelcol_batch_size_sum"].Kind)
}

func TestScrape_IncludeOverridesType(t *testing.T) {
	srv := serve(t, exposition, nil)
	s, err := New(config.Source{ID: "all", Type: "http", Endpoint: srv.URL, Include: []string{"go_"}})
	require.NoError(t, err)

	res, err := s.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Samples, 1)
	assert.Equal(t, "go_goroutines", res.Samples[0].Metric)
}

func TestScrape_HTTPTypeKeepsEverything(t *testing.T) {
	srv := serve(t, exposition, nil)
	s, err := New(config.Source{ID: "all", Type: "http", Endpoint: srv.URL})
	require.NoError(t, err)

	res, err := s.Scrape(context.Background())
	require.NoError(t, err)
	assert.Contains(t, bySeries(res.Samples), "go_goroutines")
}

func TestScrape_FailureIsReportedInResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := New(config.Source{ID: "down", Type: "prometheus", Endpoint: srv.URL})
	require.NoError(t, err)

	res, err := s.Scrape(context.Background())
	require.NoError(t, err)
	assert.Error(t, res.Err)
	assert.Empty(t, res.Samples)
}

func TestScrape_AuthModes(t *testing.T) {
	t.Setenv("TEST_SCRAPE_KEY", "k1")
	t.Setenv("TEST_SCRAPE_TOKEN", "t1")
	t.Setenv("TEST_SCRAPE_PASS", "p1")

	cases := []struct {
		auth  config.AuthConfig
		check func(*testing.T, *http.Request)
	}{
		{config.AuthConfig{Mode: "apikey", Header: "X-Api-Key", KeyEnv: "TEST_SCRAPE_KEY"}, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "k1", r.Header.Get("X-Api-Key"))
		}},
		{config.AuthConfig{Mode: "bearer", TokenEnv: "TEST_SCRAPE_TOKEN"}, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "Bearer t1", r.Header.Get("Authorization"))
		}},
		{config.AuthConfig{Mode: "basic", Username: "u", PasswordEnv: "TEST_SCRAPE_PASS"}, func(t *testing.T, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "u", user)
			assert.Equal(t, "p1", pass)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.auth.Mode, func(t *testing.T) {
			seen := make(chan *http.Request, 1)
			srv := serve(t, exposition, func(r *http.Request) { seen <- r })
			s, err := New(config.Source{ID: "a", Type: "otelcol", Endpoint: srv.URL, Auth: tc.auth})
			require.NoError(t, err)
			_, err = s.Scrape(context.Background())
			require.NoError(t, err)
			tc.check(t, <-seen)
		})
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := New(config.Source{ID: "x", Type: "jaeger", Endpoint: "http://localhost"})
	assert.Error(t, err)

	_, err = New(config.Source{ID: "x", Type: "otelcol", Endpoint: "http://localhost",
		Auth: config.AuthConfig{Mode: "mtls", CertFile: "/nonexistent.crt", KeyFile: "/nonexistent.key"}})
	assert.Error(t, err)
}
