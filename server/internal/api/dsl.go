package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/logmet/logmet-go/server/internal/store"
)

const defaultSize = 10

// searchRequest is the subset of the Elasticsearch query DSL the sink
// understands.
type searchRequest struct {
	Size  *json.Number   `json:"size"`
	Query map[string]any `json:"query"`
}

// compile turns a query clause into a store filter. Supported clauses are
// match_all, term, match, bool.must and filtered (with query and filter).
func compile(clause map[string]any) (store.Filter, error) {
	if len(clause) == 0 {
		return nil, nil
	}
	if len(clause) != 1 {
		return nil, fmt.Errorf("query clause must have exactly one key, got %d", len(clause))
	}
	for kind, body := range clause {
		switch kind {
		case "match_all":
			return nil, nil
		case "term":
			field, value, err := single(body, kind)
			if err != nil {
				return nil, err
			}
			return func(d *store.Document) bool { return d.Fields[field] == value }, nil
		case "match":
			field, value, err := single(body, kind)
			if err != nil {
				return nil, err
			}
			words := strings.Fields(strings.ToLower(value))
			return func(d *store.Document) bool { return matchAny(d.Fields[field], words) }, nil
		case "bool":
			m, ok := body.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("bool: want an object")
			}
			return compileMust(m["must"])
		case "filtered":
			m, ok := body.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("filtered: want an object")
			}
			var parts []store.Filter
			for _, key := range []string{"query", "filter"} {
				sub, ok := m[key].(map[string]any)
				if !ok {
					continue
				}
				f, err := compile(sub)
				if err != nil {
					return nil, fmt.Errorf("filtered.%s: %w", key, err)
				}
				parts = append(parts, f)
			}
			return all(parts), nil
		default:
			return nil, fmt.Errorf("unsupported query clause %q", kind)
		}
	}
	return nil, nil
}

func compileMust(v any) (store.Filter, error) {
	switch must := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return compile(must)
	case []any:
		parts := make([]store.Filter, 0, len(must))
		for i, c := range must {
			m, ok := c.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("bool.must[%d]: want an object", i)
			}
			f, err := compile(m)
			if err != nil {
				return nil, fmt.Errorf("bool.must[%d]: %w", i, err)
			}
			parts = append(parts, f)
		}
		return all(parts), nil
	default:
		return nil, fmt.Errorf("bool.must: want an object or a list")
	}
}

// single unpacks {"field": value} or {"field": {"query"|"value": value}}.
func single(body any, kind string) (string, string, error) {
	m, ok := body.(map[string]any)
	if !ok || len(m) != 1 {
		return "", "", fmt.Errorf("%s: want exactly one field", kind)
	}
	for field, v := range m {
		if inner, ok := v.(map[string]any); ok {
			switch {
			case inner["query"] != nil:
				v = inner["query"]
			case inner["value"] != nil:
				v = inner["value"]
			}
		}
		s, ok := scalar(v)
		if !ok {
			return "", "", fmt.Errorf("%s.%s: want a string or number", kind, field)
		}
		return field, s, nil
	}
	return "", "", nil
}

// scalar renders a JSON value the way the producer flattens it.
func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}

func matchAny(value string, words []string) bool {
	if len(words) == 0 {
		return false
	}
	value = strings.ToLower(value)
	for _, w := range words {
		if strings.Contains(value, w) {
			return true
		}
	}
	return false
}

func all(parts []store.Filter) store.Filter {
	fs := parts[:0]
	for _, f := range parts {
		if f != nil {
			fs = append(fs, f)
		}
	}
	switch len(fs) {
	case 0:
		return nil
	case 1:
		return fs[0]
	}
	return func(d *store.Document) bool {
		for _, f := range fs {
			if !f(d) {
				return false
			}
		}
		return true
	}
}

func (r searchRequest) size() (int, error) {
	if r.Size == nil {
		return defaultSize, nil
	}
	n, err := r.Size.Int64()
	if err != nil || n < 0 {
		return 0, fmt.Errorf("size must be a non-negative integer")
	}
	return int(n), nil
}
