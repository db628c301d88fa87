package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/logmet/logmet-go/agent/internal/config"
)

// defaultPrefixes selects the metric families shipped for each source type
// when the source sets no include list. An empty list keeps everything.
var defaultPrefixes = map[string][]string{
	"otelcol":    {"otelcol_"},
	"prometheus": {"prometheus_"},
	"loki":       {"loki_"},
	"fluentbit":  {"fluentbit_"},
	"http":       {},
}

type promScraper struct {
	src     config.Source
	client  *http.Client
	include []string
	now     func() time.Time // injectable for tests
}

// Scrape fetches the source's exposition and flattens every selected family
// into samples, sorted by metric name.
//
// A failed fetch is reported in ScrapeResult.Err rather than as an error so
// that the caller can still record the failed attempt.
func (s *promScraper) Scrape(ctx context.Context) (*ScrapeResult, error) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	start := now().UTC()
	res := &ScrapeResult{SourceID: s.src.ID, SourceType: s.src.Type, ScrapedAt: start}

	mfs, err := fetchFamilies(ctx, s.client, s.src.Endpoint)
	res.Duration = now().Sub(start)
	if err != nil {
		res.Err = fmt.Errorf("scrape %q: %w", s.src.ID, err)
		slog.Warn("scraper: fetch failed", "source", s.src.ID, "err", err)
		return res, nil
	}

	names := make([]string, 0, len(mfs))
	for name := range mfs {
		if s.selected(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		res.Samples = append(res.Samples, familySamples(mfs[name], start)...)
	}
	slog.Debug("scraper: scraped", "source", s.src.ID,
		"families", len(names), "samples", len(res.Samples))
	return res, nil
}

func (s *promScraper) selected(name string) bool {
	if len(s.include) == 0 {
		return true
	}
	for _, p := range s.include {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// familySamples expands one metric family into samples.
func familySamples(mf *dto.MetricFamily, scrapedAt time.Time) []Sample {
	name := mf.GetName()
	var out []Sample
	for _, m := range mf.GetMetric() {
		ts := scrapedAt
		if m.TimestampMs != nil {
			ts = time.UnixMilli(m.GetTimestampMs()).UTC()
		}
		labels := labelMap(m.GetLabel())
		add := func(metric, kind string, v float64, extra ...string) {
			l := labels
			if len(extra) > 0 {
				l = make(map[string]string, len(labels)+1)
				for k, v := range labels {
					l[k] = v
				}
				l[extra[0]] = extra[1]
			}
			out = append(out, Sample{Metric: metric, Kind: kind, Value: v, Labels: l, Timestamp: ts})
		}

		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			add(name, KindCounter, m.GetCounter().GetValue())
		case dto.MetricType_GAUGE:
			add(name, KindGauge, m.GetGauge().GetValue())
		case dto.MetricType_SUMMARY:
			sm := m.GetSummary()
			add(name+"_sum", KindSummary, sm.GetSampleSum())
			add(name+"_count", KindSummary, float64(sm.GetSampleCount()))
			for _, q := range sm.GetQuantile() {
				add(name, KindSummary, q.GetValue(), "quantile", formatBound(q.GetQuantile()))
			}
		case dto.MetricType_HISTOGRAM:
			h := m.GetHistogram()
			add(name+"_sum", KindHistogram, h.GetSampleSum())
			add(name+"_count", KindHistogram, float64(h.GetSampleCount()))
			for _, b := range h.GetBucket() {
				add(name+"_bucket", KindHistogram, float64(b.GetCumulativeCount()), "le", formatBound(b.GetUpperBound()))
			}
		default:
			add(name, KindUntyped, m.GetUntyped().GetValue())
		}
	}
	return out
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, lp := range pairs {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
