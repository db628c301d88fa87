package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/logmet/logmet-go/agent/internal/config"
	"github.com/logmet/logmet-go/pkg/producer"
)

const defaultScrapeTimeout = 10 * time.Second

// Sample kinds.
const (
	KindCounter   = "counter"
	KindGauge     = "gauge"
	KindUntyped   = "untyped"
	KindSummary   = "summary"
	KindHistogram = "histogram"
)

// Sample is one value from a Prometheus exposition. Summaries and
// histograms are expanded into their _sum, _count, quantile and bucket
// series.
type Sample struct {
	Metric    string
	Kind      string
	Value     float64
	Labels    map[string]string
	Timestamp time.Time
}

// ScrapeResult is the output of one scrape cycle for a single source.
type ScrapeResult struct {
	SourceID   string
	SourceType string
	ScrapedAt  time.Time
	Duration   time.Duration
	Samples    []Sample

	// Err is set when the endpoint could not be fetched or decoded.
	Err error
}

// Scraper is implemented by every source scraper.
type Scraper interface {
	Scrape(ctx context.Context) (*ScrapeResult, error)
}

// New returns a Scraper for src. The HTTP client is built once and reused
// across scrapes.
func New(src config.Source) (Scraper, error) {
	client, err := newClient(src)
	if err != nil {
		return nil, fmt.Errorf("scraper %q: %w", src.ID, err)
	}
	include := src.Include
	if len(include) == 0 {
		p, ok := defaultPrefixes[src.Type]
		if !ok {
			return nil, fmt.Errorf("scraper %q: unsupported type %q", src.ID, src.Type)
		}
		include = p
	}
	return &promScraper{src: src, client: client, include: include}, nil
}

// credentials decorates a request with a source's auth material.
type credentials func(h http.Header, r *http.Request)

func credentialsFor(a config.AuthConfig) credentials {
	switch a.Mode {
	case "apikey":
		return func(h http.Header, _ *http.Request) { h.Set(a.Header, a.Key()) }
	case "bearer":
		return func(h http.Header, _ *http.Request) { h.Set("Authorization", "Bearer "+a.Token()) }
	case "basic":
		return func(_ http.Header, r *http.Request) { r.SetBasicAuth(a.Username, a.Password()) }
	}
	return nil
}

// authTransport applies credentials to a clone of every outgoing request.
type authTransport struct {
	next  http.RoundTripper
	apply credentials
}

func (t authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.apply != nil {
		req = req.Clone(req.Context())
		t.apply(req.Header, req)
	}
	return t.next.RoundTrip(req)
}

// newClient builds the HTTP client for src. In mtls mode the client
// certificate and CA come from the auth block; otherwise the tls block only
// controls server verification.
func newClient(src config.Source) (*http.Client, error) {
	files := producer.TLSFiles{
		CAFile:             src.TLS.CAFile,
		ServerName:         src.TLS.ServerName,
		InsecureSkipVerify: src.TLS.InsecureSkipVerify,
	}
	if src.Auth.Mode == "mtls" {
		files.CertFile, files.KeyFile = src.Auth.CertFile, src.Auth.KeyFile
		if src.Auth.CAFile != "" {
			files.CAFile = src.Auth.CAFile
		}
	}
	tlsCfg, err := producer.LoadTLSConfig(files)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	return &http.Client{
		Timeout: defaultScrapeTimeout,
		Transport: authTransport{
			next:  &http.Transport{TLSClientConfig: tlsCfg},
			apply: credentialsFor(src.Auth),
		},
	}, nil
}

// fetchFamilies GETs a Prometheus text exposition from url.
func fetchFamilies(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return decodeFamilies(resp.Body)
}

// decodeFamilies parses text exposition format. Families read before a
// parse error are kept; the error is returned only when nothing parsed.
func decodeFamilies(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var p expfmt.TextParser
	families, err := p.TextToMetricFamilies(r)
	if len(families) == 0 && err != nil {
		return nil, fmt.Errorf("decode exposition: %w", err)
	}
	return families, nil
}
