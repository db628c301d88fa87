package cmd

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/logmet/logmet-go/internal/jsoncodec"
	"github.com/logmet/logmet-go/pkg/producer"
	"github.com/logmet/logmet-go/pkg/query"
)

func queryCmd(f *connFlags) *cobra.Command {
	var (
		body    string
		terms   []string
		size    int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "query TYPE",
		Short: "Search stored records of one type",
		Long: `Query posts a search to the tenant's indices and prints the hits as JSON.
The query is either a raw body or built from --term filters.

	logmetctl query syslog -t space-1 --query-endpoint logs.example.net --term level=error --size 5
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := f.agentConfig(cmd)
			if err != nil {
				return err
			}
			if a.QueryEndpoint == "" {
				return fmt.Errorf("a query endpoint is required (--query-endpoint or --config)")
			}
			tlsCfg, err := producer.LoadTLSConfig(producer.TLSFiles{
				CAFile:             a.TLS.CAFile,
				CertFile:           a.TLS.CertFile,
				KeyFile:            a.TLS.KeyFile,
				InsecureSkipVerify: a.TLS.InsecureSkipVerify,
			})
			if err != nil {
				return err
			}
			client, err := query.New(a.QueryEndpoint, query.WithHTTPClient(&http.Client{
				Timeout:   timeout,
				Transport: &http.Transport{TLSClientConfig: tlsCfg},
			}))
			if err != nil {
				return err
			}

			q, err := buildQuery(body, terms, size)
			if err != nil {
				return err
			}
			hits, err := client.Search(cmd.Context(), a.TenantID, f.resolveToken(a), args[0], q)
			if err != nil {
				return err
			}
			out, err := jsoncodec.MarshalIndent(hits, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "raw JSON query body")
	cmd.Flags().StringArrayVar(&terms, "term", nil, "field=value term filter (repeatable)")
	cmd.Flags().IntVar(&size, "size", 10, "maximum number of hits")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	cmd.MarkFlagsMutuallyExclusive("body", "term")
	return cmd
}

// buildQuery returns the raw body when given, otherwise a match_all or a
// filtered term query over terms.
func buildQuery(body string, terms []string, size int) (any, error) {
	if body != "" {
		var q map[string]any
		if err := jsoncodec.UnmarshalNumbers([]byte(body), &q); err != nil {
			return nil, fmt.Errorf("--body: %w", err)
		}
		return q, nil
	}
	if len(terms) == 0 {
		return map[string]any{
			"size":  size,
			"query": map[string]any{"match_all": map[string]any{}},
		}, nil
	}
	musts := make([]any, 0, len(terms))
	for _, t := range terms {
		field, value, ok := strings.Cut(t, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("--term %q: want field=value", t)
		}
		musts = append(musts, map[string]any{"term": map[string]any{field: value}})
	}
	var filter any = musts[0]
	if len(musts) > 1 {
		filter = map[string]any{"bool": map[string]any{"must": musts}}
	}
	return map[string]any{
		"size": size,
		"query": map[string]any{
			"filtered": map[string]any{"filter": filter},
		},
	}, nil
}
