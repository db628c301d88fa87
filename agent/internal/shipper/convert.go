package shipper

import (
	"time"

	"github.com/logmet/logmet-go/agent/internal/compute"
	"github.com/logmet/logmet-go/pkg/producer"
)

// toRecords converts one processed scrape into log records: a summary
// record describing the scrape itself, then one record per sample.
func toRecords(r *compute.Result) []producer.Record {
	ts := r.Timestamp.UTC().Format(time.RFC3339Nano)

	summary := producer.Record{
		"source":      r.SourceID,
		"source_type": r.SourceType,
		"kind":        "scrape",
		"samples":     len(r.Samples),
		"duration_ms": r.Duration.Milliseconds(),
		"uptime_pct":  r.UptimePct,
		"timestamp":   ts,
	}
	if r.ErrorMessage != "" {
		summary["error"] = r.ErrorMessage
	}

	out := make([]producer.Record, 0, len(r.Samples)+1)
	out = append(out, summary)
	for _, s := range r.Samples {
		rec := producer.Record{
			"source":      r.SourceID,
			"source_type": r.SourceType,
			"metric":      s.Metric,
			"kind":        s.Kind,
			"value":       s.Value,
			"timestamp":   s.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		if len(s.Labels) > 0 {
			labels := make(map[string]any, len(s.Labels))
			for k, v := range s.Labels {
				labels[k] = v
			}
			rec["labels"] = labels
		}
		if s.HasRate {
			rec["rate_per_min"] = s.RatePM
		}
		out = append(out, rec)
	}
	return out
}
