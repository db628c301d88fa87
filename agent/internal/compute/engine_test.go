package compute

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logmet/logmet-go/agent/internal/scraper"
)

// baseTime is a fixed reference point so all test timings are deterministic.
var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// tick returns baseTime advanced by n minutes.
func tick(n int) time.Time {
	return baseTime.Add(time.Duration(n) * time.Minute)
}

func counter(metric string, v float64, labels map[string]string) scraper.Sample {
	return scraper.Sample{Metric: metric, Kind: scraper.KindCounter, Value: v, Labels: labels}
}

func scrape(id string, samples ...scraper.Sample) *scraper.ScrapeResult {
	return &scraper.ScrapeResult{SourceID: id, SourceType: "otelcol", ScrapedAt: baseTime, Samples: samples}
}

func TestEngine_FirstScrapeHasNoRates(t *testing.T) {
	e := NewEngine()
	out := e.Process(scrape("otel-1", counter("sent_total", 1000, nil)), tick(0))

	require.Len(t, out.Samples, 1)
	assert.False(t, out.Samples[0].HasRate)
	assert.Equal(t, 100.0, out.UptimePct)
}

func TestEngine_SecondScrapeComputesRates(t *testing.T) {
	e := NewEngine()
	labels := map[string]string{"exporter": "logmet"}
	e.Process(scrape("otel-1", counter("sent_total", 1000, labels)), tick(0))

	out := e.Process(scrape("otel-1",
		counter("sent_total", 1600, labels),
		scraper.Sample{Metric: "queue_size", Kind: scraper.KindGauge, Value: 4},
	), tick(2))

	require.Len(t, out.Samples, 2)
	assert.True(t, out.Samples[0].HasRate)
	assert.InDelta(t, 300.0, out.Samples[0].RatePM, 1e-9)
	assert.False(t, out.Samples[1].HasRate, "gauges carry no rate")
}

func TestEngine_CounterResetGivesZeroRate(t *testing.T) {
	e := NewEngine()
	e.Process(scrape("otel-1", counter("sent_total", 5000, nil)), tick(0))
	out := e.Process(scrape("otel-1", counter("sent_total", 10, nil)), tick(1))

	assert.True(t, out.Samples[0].HasRate)
	assert.Zero(t, out.Samples[0].RatePM)
}

func TestEngine_NewSeriesHasNoRate(t *testing.T) {
	e := NewEngine()
	e.Process(scrape("otel-1", counter("a_total", 1, nil)), tick(0))
	out := e.Process(scrape("otel-1", counter("b_total", 1, nil)), tick(1))
	assert.False(t, out.Samples[0].HasRate)
}

func TestEngine_FailedScrapeKeepsBaseline(t *testing.T) {
	e := NewEngine()
	e.Process(scrape("otel-1", counter("sent_total", 100, nil)), tick(0))

	failed := &scraper.ScrapeResult{SourceID: "otel-1", Err: errors.New("connection refused")}
	out := e.Process(failed, tick(1))
	assert.Equal(t, "connection refused", out.ErrorMessage)
	assert.Equal(t, 50.0, out.UptimePct)
	assert.Empty(t, out.Samples)

	out = e.Process(scrape("otel-1", counter("sent_total", 400, nil)), tick(3))
	assert.InDelta(t, 100.0, out.Samples[0].RatePM, 1e-9)
}

func TestEngine_UptimeWindow(t *testing.T) {
	e := NewEngine()
	for i := 0; i < uptimeWindow; i++ {
		e.Process(&scraper.ScrapeResult{SourceID: "s", Err: errors.New("down")}, tick(i))
	}
	var out *Result
	for i := 0; i < uptimeWindow/2; i++ {
		out = e.Process(scrape("s"), tick(uptimeWindow+i))
	}
	assert.Equal(t, 50.0, out.UptimePct)
}

func TestEngine_SourcesAreIndependent(t *testing.T) {
	e := NewEngine()
	e.Process(scrape("a", counter("x_total", 10, nil)), tick(0))
	out := e.Process(scrape("b", counter("x_total", 10, nil)), tick(1))
	assert.False(t, out.Samples[0].HasRate)
}

func TestSeriesKey(t *testing.T) {
	assert.Equal(t, "m", SeriesKey("m", nil))
	assert.Equal(t, `m{a="1",b="2"}`, SeriesKey("m", map[string]string{"b": "2", "a": "1"}))
}
