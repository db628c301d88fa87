package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the sink configuration.
const (
	DefaultLumberjackPort = 9091
	DefaultHTTPPort       = 8080
	DefaultRecordTTL      = time.Hour
	DefaultMaxRecords     = 10000
	DefaultIdleTimeout    = 60 * time.Second
	DefaultStreamInterval = 5 * time.Second
)

// Config holds the sink configuration parsed from the `server:` section of
// config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	LogLevel string       `yaml:"log_level"`
	Server   ServerConfig `yaml:"server"`
}

// ServerConfig holds all sink settings.
type ServerConfig struct {
	// LumberjackPort is the TLS port the receiver listens on.
	LumberjackPort int `yaml:"lumberjack_port"`

	// HTTPPort serves the search API, health and the WebSocket stream.
	HTTPPort int `yaml:"http_port"`

	TLS TLSConfig `yaml:"tls"`

	// Tenants lists the credentials accepted on both listeners.
	Tenants []Tenant `yaml:"tenants"`

	// RecordTTL is how long a stored document is kept.
	RecordTTL time.Duration `yaml:"record_ttl"`

	// MaxRecords caps the store; the oldest documents are evicted first.
	MaxRecords int `yaml:"max_records"`

	// IdleTimeout closes a producer connection that sends nothing for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// StreamInterval is how often new documents are pushed to WebSocket clients.
	StreamInterval time.Duration `yaml:"stream_interval"`
}

// TLSConfig names the receiver's certificate files.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// CAFile verifies client certificates when ClientAuth is set.
	CAFile string `yaml:"ca_file"`

	// ClientAuth is one of: none | request | require.
	ClientAuth string `yaml:"client_auth"`
}

// Tenant is one space or supertenant the sink accepts.
type Tenant struct {
	ID string `yaml:"id"`

	// TokenEnv is the name of the environment variable that holds the token.
	TokenEnv    string `yaml:"token_env"`
	SuperTenant bool   `yaml:"supertenant"`
}

// Token returns the tenant token resolved from the environment.
func (t Tenant) Token() string {
	if t.TokenEnv == "" {
		return ""
	}
	return os.Getenv(t.TokenEnv)
}

// ServerTLS loads the certificate and client-auth policy into a tls.Config.
func (c TLSConfig) ServerTLS() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("server config: load certificate: %w", err)
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	switch c.ClientAuth {
	case "request":
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	case "require":
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("server config: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("server config: no valid certs in %q", c.CAFile)
		}
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

// Load reads and parses the config file at path, returning the sink configuration.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			LumberjackPort: DefaultLumberjackPort,
			HTTPPort:       DefaultHTTPPort,
			RecordTTL:      DefaultRecordTTL,
			MaxRecords:     DefaultMaxRecords,
			IdleTimeout:    DefaultIdleTimeout,
			StreamInterval: DefaultStreamInterval,
			TLS:            TLSConfig{ClientAuth: "none"},
		},
	}
}

func validate(cfg *Config) error {
	s := cfg.Server
	if s.LumberjackPort <= 0 || s.LumberjackPort > 65535 {
		return fmt.Errorf("server.lumberjack_port %d is out of range [1, 65535]", s.LumberjackPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.TLS.CertFile == "" || s.TLS.KeyFile == "" {
		return fmt.Errorf("server.tls.cert_file and server.tls.key_file are required")
	}
	switch s.TLS.ClientAuth {
	case "none", "request", "require", "":
	default:
		return fmt.Errorf("server.tls.client_auth %q unknown: want none|request|require", s.TLS.ClientAuth)
	}
	if len(s.Tenants) == 0 {
		return fmt.Errorf("server.tenants must list at least one tenant")
	}
	seen := make(map[string]bool, len(s.Tenants))
	for i, t := range s.Tenants {
		if t.ID == "" {
			return fmt.Errorf("server.tenants[%d]: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("server.tenants[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = true
		if t.TokenEnv == "" {
			return fmt.Errorf("server.tenants[%d] %q: token_env is required", i, t.ID)
		}
	}
	if s.RecordTTL < 0 {
		return fmt.Errorf("server.record_ttl must not be negative")
	}
	if s.MaxRecords < 0 {
		return fmt.Errorf("server.max_records must not be negative")
	}
	if s.IdleTimeout <= 0 || s.StreamInterval <= 0 {
		return fmt.Errorf("server.idle_timeout and server.stream_interval must be positive")
	}
	return nil
}
