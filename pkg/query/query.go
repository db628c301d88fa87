package query

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/logmet/logmet-go/internal/jsoncodec"
)

const (
	headerToken   = "X-Auth-Token"
	headerProject = "X-Auth-Project-Id"

	defaultTimeout = 30 * time.Second
)

// ErrStatus is wrapped by errors for non-2xx responses.
var ErrStatus = errors.New("query: unexpected response status")

// Hit is one document returned by a search.
type Hit struct {
	Index  string         `json:"_index"`
	Type   string         `json:"_type"`
	ID     string         `json:"_id"`
	Score  *float64       `json:"_score,omitempty"`
	Source map[string]any `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

// Client issues search requests against one query endpoint. It is stateless
// and safe for concurrent use.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (TLS with system roots and a
// 30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for endpoint, which is a host name, a host:port or a
// full base URL. A bare host is reached over https.
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("query: endpoint is required")
	}
	raw := endpoint
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("query: parse endpoint: %w", err)
	}
	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: defaultTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Search posts body, a query DSL document, to the _search path of tenantID's
// indices for docType and returns the matching hits. An empty response body
// yields no hits and no error.
func (c *Client) Search(ctx context.Context, tenantID, token, docType string, body any) ([]Hit, error) {
	payload, err := jsoncodec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("query: encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.searchURL(tenantID, docType), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("query: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerToken, StripBearer(token))
	req.Header.Set(headerProject, tenantID)

	c.logger.Info("query: performing search",
		"tenant_id", tenantID, "doc_type", docType, "query_body", string(payload))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("query: request failed", "err", err)
		return nil, fmt.Errorf("query: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("query: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: %s", ErrStatus, resp.Status, snippet(data))
	}
	c.logger.Debug("query: received response", "bytes", len(data))

	if len(bytes.TrimSpace(data)) == 0 {
		return []Hit{}, nil
	}
	var sr searchResponse
	if err := jsoncodec.UnmarshalNumbers(data, &sr); err != nil {
		return nil, fmt.Errorf("query: decode response: %w", err)
	}
	if sr.Hits.Hits == nil {
		return []Hit{}, nil
	}
	return sr.Hits.Hits, nil
}

// searchURL keeps the index wildcard literal; the other segments are
// escaped.
func (c *Client) searchURL(tenantID, docType string) string {
	return strings.TrimSuffix(c.base.String(), "/") +
		"/elasticsearch/logstash-" + url.PathEscape(tenantID) + "-*/" +
		url.PathEscape(docType) + "/_search"
}

// StripBearer removes a leading "bearer " from token.
func StripBearer(token string) string {
	return strings.TrimPrefix(token, "bearer ")
}

func snippet(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
