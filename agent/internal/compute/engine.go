package compute

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/logmet/logmet-go/agent/internal/scraper"
)

// uptimeWindow is how many recent scrape outcomes feed UptimePct.
const uptimeWindow = 20

// Result is one scrape cycle enriched with values derived from the previous
// cycle of the same source.
type Result struct {
	SourceID     string
	SourceType   string
	Timestamp    time.Time
	Duration     time.Duration
	UptimePct    float64
	ErrorMessage string // set when the scrape failed
	Samples      []Sample
}

// Sample is a scraped sample plus its per-minute rate. Rates exist only for
// counters that were also present in the previous successful scrape.
type Sample struct {
	scraper.Sample
	RatePM  float64
	HasRate bool
}

// Engine keeps per-source counter baselines and scrape outcomes. It is safe
// for concurrent use.
type Engine struct {
	mu      sync.Mutex
	sources map[string]*tracker
}

func NewEngine() *Engine {
	return &Engine{sources: map[string]*tracker{}}
}

// Process derives rates and uptime for res. now is the time of the cycle;
// rates are per minute of now minus the previous successful cycle.
func (e *Engine) Process(res *scraper.ScrapeResult, now time.Time) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	tr, ok := e.sources[res.SourceID]
	if !ok {
		tr = &tracker{}
		e.sources[res.SourceID] = tr
	}
	tr.outcomes.add(res.Err == nil)

	out := &Result{
		SourceID:   res.SourceID,
		SourceType: res.SourceType,
		Timestamp:  now,
		Duration:   res.Duration,
		UptimePct:  tr.outcomes.pct(),
	}
	if res.Err != nil {
		slog.Warn("compute: scrape failed", "source", res.SourceID, "err", res.Err)
		out.ErrorMessage = res.Err.Error()
		return out
	}

	out.Samples = tr.rate(res.Samples, now)
	return out
}

// tracker is the state of one source.
type tracker struct {
	baseline map[string]float64 // nil until the first successful scrape
	at       time.Time
	outcomes outcomeRing
}

// rate converts samples and replaces the baseline with their counters.
func (tr *tracker) rate(samples []scraper.Sample, now time.Time) []Sample {
	minutes := now.Sub(tr.at).Minutes()
	if minutes <= 0 {
		minutes = 1
	}
	next := make(map[string]float64, len(samples))
	out := make([]Sample, len(samples))
	for i, s := range samples {
		out[i].Sample = s
		if s.Kind != scraper.KindCounter {
			continue
		}
		key := SeriesKey(s.Metric, s.Labels)
		next[key] = s.Value
		if prev, seen := tr.baseline[key]; seen {
			// A counter that went down was reset; count nothing for the gap.
			out[i].RatePM = max(s.Value-prev, 0) / minutes
			out[i].HasRate = true
		}
	}
	tr.baseline, tr.at = next, now
	return out
}

// outcomeRing holds the last uptimeWindow scrape outcomes.
type outcomeRing struct {
	ok   [uptimeWindow]bool
	next int
	n    int
}

func (r *outcomeRing) add(success bool) {
	r.ok[r.next] = success
	r.next = (r.next + 1) % uptimeWindow
	r.n = min(r.n+1, uptimeWindow)
}

// pct is the share of successful outcomes, or 100 before any outcome.
func (r *outcomeRing) pct() float64 {
	if r.n == 0 {
		return 100
	}
	good := 0
	for _, s := range r.ok[:r.n] {
		if s {
			good++
		}
	}
	return 100 * float64(good) / float64(r.n)
}

// SeriesKey identifies a series by metric name and sorted labels, in
// Prometheus selector notation.
func SeriesKey(metric string, labels map[string]string) string {
	if len(labels) == 0 {
		return metric
	}
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	slices.Sort(names)

	pairs := make([]string, len(names))
	for i, k := range names {
		pairs[i] = k + `="` + labels[k] + `"`
	}
	return metric + "{" + strings.Join(pairs, ",") + "}"
}
