package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logmet/logmet-go/agent/internal/config"
)

func TestBuildQuery(t *testing.T) {
	t.Run("match all", func(t *testing.T) {
		q, err := buildQuery("", nil, 5)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"size":  5,
			"query": map[string]any{"match_all": map[string]any{}},
		}, q)
	})

	t.Run("single term", func(t *testing.T) {
		q, err := buildQuery("", []string{"level=error"}, 10)
		require.NoError(t, err)
		filtered := q.(map[string]any)["query"].(map[string]any)["filtered"].(map[string]any)
		assert.Equal(t, map[string]any{"term": map[string]any{"level": "error"}}, filtered["filter"])
	})

	t.Run("several terms", func(t *testing.T) {
		q, err := buildQuery("", []string{"level=error", "host=a=b"}, 10)
		require.NoError(t, err)
		filter := q.(map[string]any)["query"].(map[string]any)["filtered"].(map[string]any)["filter"]
		must := filter.(map[string]any)["bool"].(map[string]any)["must"].([]any)
		require.Len(t, must, 2)
		assert.Equal(t, map[string]any{"term": map[string]any{"host": "a=b"}}, must[1])
	})

	t.Run("raw body", func(t *testing.T) {
		q, err := buildQuery(`{"size":1}`, nil, 10)
		require.NoError(t, err)
		assert.Contains(t, q.(map[string]any), "size")
	})

	t.Run("bad input", func(t *testing.T) {
		_, err := buildQuery("", []string{"novalue"}, 10)
		assert.Error(t, err)
		_, err = buildQuery("{", nil, 10)
		assert.Error(t, err)
	})
}

func TestFlattenCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"message": "hi",
		"count": 3,
		"ok": true,
		"tags": ["a", "b"],
		"services": [{"broker_id": "b1"}]
	}`), 0o600))

	root := RootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"flatten", path})
	require.NoError(t, root.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"count=3",
		"message=hi",
		"services.0.broker_id=b1",
		"tags=a,b",
	}, lines)
}

func TestSendRequiresEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.ndjson")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	root := RootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"send", "--tenant", "space-1", path})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest endpoint is required")
}

func TestAgentConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent:
  server_endpoint: from-file.example.net
  tenant_id: file-tenant
  token_env: TEST_LOGMETCTL_TOKEN
  query_endpoint: search.example.net
`), 0o600))
	t.Setenv("TEST_LOGMETCTL_TOKEN", "file-token")
	t.Setenv(TokenEnv, "")

	f := &connFlags{}
	root := rootCmd(f)
	var (
		got   config.AgentConfig
		token string
	)
	root.AddCommand(&cobra.Command{
		Use: "probe",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			got, err = f.agentConfig(cmd)
			token = f.resolveToken(got)
			return err
		},
	})
	root.SetArgs([]string{"--config", path, "--tenant", "flag-tenant", "--port", "7000", "probe"})
	require.NoError(t, root.Execute())

	assert.Equal(t, "from-file.example.net", got.ServerEndpoint)
	assert.Equal(t, "flag-tenant", got.TenantID)
	assert.Equal(t, 7000, got.Port)
	assert.Equal(t, "search.example.net", got.QueryEndpoint)
	assert.Equal(t, "file-token", token)
}
