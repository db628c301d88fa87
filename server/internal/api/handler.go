package api

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/logmet/logmet-go/internal/jsoncodec"
	"github.com/logmet/logmet-go/server/internal/auth"
	"github.com/logmet/logmet-go/server/internal/store"
)

const (
	searchPrefix = "/elasticsearch/"
	indexPrefix  = "logstash-"
	indexSuffix  = "-*"

	maxBodyBytes = 1 << 20
)

// Handler serves the search API and the /api/v1/* endpoints.
type Handler struct {
	store *store.Store
	mux   *http.ServeMux
	now   func() time.Time
}

// New creates a Handler wired to the given store and registers all routes.
// Search and stats require tenant credentials checked by v; health does not.
func New(st *store.Store, v *auth.Verifier) http.Handler {
	h := &Handler{store: st, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.Handle("/api/v1/stats", v.Middleware(http.HandlerFunc(h.stats)))
	h.mux.Handle(searchPrefix, v.Middleware(http.HandlerFunc(h.search)))

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Documents: h.store.Count(),
		Latest:    h.store.Latest(),
	})
}

// stats returns GET /api/v1/stats. Supertenants see every tenant, anyone
// else only their own.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, _ := auth.IdentityFrom(r.Context())
	counts := h.store.Counts()
	if !id.SuperTenant {
		own := counts[id.TenantID]
		counts = map[string]map[string]int{}
		if own != nil {
			counts[id.TenantID] = own
		}
	}
	total := 0
	for _, byType := range counts {
		for _, n := range byType {
			total += n
		}
	}
	jsonResp(w, http.StatusOK, StatsResponse{Documents: total, Tenants: counts})
}

// search handles POST /elasticsearch/logstash-{tenant}-*/{type}/_search.
func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tenant, typ, ok := parseSearchPath(r.URL.Path)
	if !ok {
		jsonErr(w, http.StatusNotFound, "unknown index path")
		return
	}
	id, _ := auth.IdentityFrom(r.Context())
	if id.TenantID != tenant && !id.SuperTenant {
		jsonErr(w, http.StatusForbidden, "project does not match index tenant")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	var req searchRequest
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := jsoncodec.UnmarshalNumbers(body, &req); err != nil {
			jsonErr(w, http.StatusBadRequest, "decode body: "+err.Error())
			return
		}
	}
	size, err := req.size()
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := compile(req.Query)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	total, docs := h.store.Search(tenant, typ, filter, size)
	resp := SearchResponse{
		Hits: HitsResult{Total: total, Hits: make([]Hit, 0, len(docs))},
	}
	if len(docs) > 0 {
		resp.Hits.MaxScore = 1
	}
	for _, d := range docs {
		resp.Hits.Hits = append(resp.Hits.Hits, ToHit(d))
	}
	resp.Took = h.now().Sub(start).Milliseconds()

	slog.Debug("api: search", "tenant_id", tenant, "type", typ, "total", total, "returned", len(docs))
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

// parseSearchPath extracts the tenant and type from
// /elasticsearch/logstash-{tenant}-*/{type}/_search.
func parseSearchPath(path string) (tenant, typ string, ok bool) {
	rest, ok := strings.CutPrefix(path, searchPrefix)
	if !ok {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "_search" || parts[1] == "" {
		return "", "", false
	}
	index := parts[0]
	if !strings.HasPrefix(index, indexPrefix) || !strings.HasSuffix(index, indexSuffix) {
		return "", "", false
	}
	tenant = strings.TrimSuffix(strings.TrimPrefix(index, indexPrefix), indexSuffix)
	if tenant == "" {
		return "", "", false
	}
	return tenant, parts[1], true
}

// ToHit renders a document as a search hit, naming the index the way daily
// logstash indices are named.
func ToHit(d *store.Document) Hit {
	return Hit{
		Index:  indexPrefix + d.TenantID + "-" + d.ReceivedAt.UTC().Format("2006.01.02"),
		Type:   d.Type,
		ID:     d.ID,
		Score:  1,
		Source: d.Fields,
	}
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	jsoncodec.Encode(w, v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
