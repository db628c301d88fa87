package config

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logmet/logmet-go/internal/testcert"
)

const minimal = `
server:
  tls:
    cert_file: sink.crt
    key_file: sink.key
  tenants:
    - id: space-1
      token_env: SPACE1_TOKEN
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	s := cfg.Server
	assert.Equal(t, DefaultLumberjackPort, s.LumberjackPort)
	assert.Equal(t, DefaultHTTPPort, s.HTTPPort)
	assert.Equal(t, DefaultRecordTTL, s.RecordTTL)
	assert.Equal(t, DefaultMaxRecords, s.MaxRecords)
	assert.Equal(t, DefaultIdleTimeout, s.IdleTimeout)
	assert.Equal(t, "none", s.TLS.ClientAuth)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
agent:
  server_endpoint: ignored
server:
  lumberjack_port: 19091
  http_port: 18080
  record_ttl: 10m
  max_records: 50
  idle_timeout: 5s
  stream_interval: 1s
  tls:
    cert_file: a.crt
    key_file: a.key
    ca_file: ca.pem
    client_auth: require
  tenants:
    - id: space-1
      token_env: SPACE1_TOKEN
    - id: super
      token_env: SUPER_TOKEN
      supertenant: true
`))
	require.NoError(t, err)
	s := cfg.Server
	assert.Equal(t, 19091, s.LumberjackPort)
	assert.Equal(t, 18080, s.HTTPPort)
	assert.Equal(t, 10*time.Minute, s.RecordTTL)
	assert.Equal(t, 50, s.MaxRecords)
	assert.Equal(t, "require", s.TLS.ClientAuth)
	require.Len(t, s.Tenants, 2)
	assert.True(t, s.Tenants[1].SuperTenant)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"no tls": `
server:
  tenants: [{id: a, token_env: A}]
`,
		"no tenants": `
server:
  tls: {cert_file: a, key_file: b}
`,
		"duplicate tenant": `
server:
  tls: {cert_file: a, key_file: b}
  tenants: [{id: a, token_env: A}, {id: a, token_env: B}]
`,
		"missing token env": `
server:
  tls: {cert_file: a, key_file: b}
  tenants: [{id: a}]
`,
		"bad port": `
server:
  lumberjack_port: 70000
  tls: {cert_file: a, key_file: b}
  tenants: [{id: a, token_env: A}]
`,
		"bad client auth": `
server:
  tls: {cert_file: a, key_file: b, client_auth: sometimes}
  tenants: [{id: a, token_env: A}]
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestTenantToken(t *testing.T) {
	t.Setenv("SINK_TEST_TOKEN", "s3cret")
	assert.Equal(t, "s3cret", Tenant{TokenEnv: "SINK_TEST_TOKEN"}.Token())
	assert.Empty(t, Tenant{}.Token())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(minimal), 0o600))
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "space-1", cfg.Server.Tenants[0].ID)
}

func TestServerTLS(t *testing.T) {
	_, err := TLSConfig{CertFile: "missing.crt", KeyFile: "missing.key"}.ServerTLS()
	assert.Error(t, err)

	dir := t.TempDir()
	certFile, keyFile := testcert.New(t, time.Now().Add(time.Hour)).WriteFiles(t, dir)

	cfg, err := TLSConfig{CertFile: certFile, KeyFile: keyFile, CAFile: certFile, ClientAuth: "require"}.ServerTLS()
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
	assert.NotNil(t, cfg.ClientCAs)

	cfg, err = TLSConfig{CertFile: certFile, KeyFile: keyFile, ClientAuth: "none"}.ServerTLS()
	require.NoError(t, err)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)
}
