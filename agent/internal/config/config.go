package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/logmet/logmet-go/pkg/producer"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultPort            = 9091
	DefaultScrapeInterval  = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultRecordType      = "metrics"
	DefaultMetricsAddr     = ":9102"
	DefaultLogLevel        = "warn"

	// LevelEnv overrides log_level when set.
	LevelEnv = "LOGMET_LOG_LEVEL"
)

// Config is the top-level agent configuration.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	// LogLevel is one of debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	Agent AgentConfig `yaml:"agent"`

	// Alerts holds ingest health rules and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	// Interval is how often rules are evaluated; zero uses ScrapeInterval.
	Interval time.Duration   `yaml:"interval"`
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "pending > 40", "state == disconnected",
	// "cert_days_left < 14", "dropped > 0".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// AgentConfig holds the ingest connection and the scraped sources.
type AgentConfig struct {
	// ServerEndpoint is the host name of the Lumberjack ingest service.
	ServerEndpoint string `yaml:"server_endpoint"`
	Port           int    `yaml:"port"`

	// TenantID is the space (or supertenant) the agent logs into.
	TenantID string `yaml:"tenant_id"`

	// TokenEnv is the name of the environment variable holding the
	// tenant token.
	TokenEnv    string `yaml:"token_env"`
	SuperTenant bool   `yaml:"supertenant"`

	// BufferSize and MaxUnacked size the producer; zero keeps the
	// producer defaults (50 and 100).
	BufferSize int `yaml:"buffer_size"`
	MaxUnacked int `yaml:"max_unacked"`

	RetryInitial  time.Duration `yaml:"retry_initial"`
	RetryMax      time.Duration `yaml:"retry_max"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	TerminatePoll time.Duration `yaml:"terminate_poll"`

	// RecordType is the "type" field stamped on every shipped record.
	RecordType string `yaml:"record_type"`

	TLS TLSConfig `yaml:"tls"`

	// QueryEndpoint is the search API host used by logmetctl query.
	QueryEndpoint string `yaml:"query_endpoint"`

	// MetricsAddr is where the agent serves its own /metrics; empty disables.
	MetricsAddr string `yaml:"metrics_addr"`

	// ScrapeInterval controls how often each source is polled.
	ScrapeInterval time.Duration `yaml:"scrape_interval"`

	// ShutdownTimeout bounds the wait for buffered records on exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Sources is the list of metrics endpoints to ship.
	Sources []Source `yaml:"sources"`
}

// Token returns the tenant token resolved from the environment.
func (a AgentConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// ProducerConfig translates the ingest settings into a producer.Config.
func (a AgentConfig) ProducerConfig() (producer.Config, error) {
	tlsCfg, err := producer.LoadTLSConfig(producer.TLSFiles{
		CAFile:             a.TLS.CAFile,
		CertFile:           a.TLS.CertFile,
		KeyFile:            a.TLS.KeyFile,
		ServerName:         a.TLS.ServerName,
		InsecureSkipVerify: a.TLS.InsecureSkipVerify,
	})
	if err != nil {
		return producer.Config{}, fmt.Errorf("config: ingest tls: %w", err)
	}
	return producer.Config{
		Endpoint:      a.ServerEndpoint,
		Port:          a.Port,
		TenantID:      a.TenantID,
		Token:         a.Token(),
		SuperTenant:   a.SuperTenant,
		BufferSize:    a.BufferSize,
		MaxUnacked:    a.MaxUnacked,
		TLS:           tlsCfg,
		RetryInitial:  a.RetryInitial,
		RetryMax:      a.RetryMax,
		IdleTimeout:   a.IdleTimeout,
		TerminatePoll: a.TerminatePoll,
	}, nil
}

// Source describes one scraped metrics endpoint.
type Source struct {
	// ID is a unique, human-readable identifier for this source.
	ID string `yaml:"id"`

	// Type is the component type: otelcol | prometheus | loki | fluentbit | http.
	// It selects the default metric name prefixes when Include is empty.
	Type string `yaml:"type"`

	// Endpoint is the full URL of the Prometheus text exposition.
	Endpoint string `yaml:"endpoint"`

	// Include keeps only metric families whose name has one of these
	// prefixes. Empty means the defaults for Type.
	Include []string `yaml:"include"`

	// Auth configures how the agent authenticates to this source.
	Auth AuthConfig `yaml:"auth"`

	TLS TLSConfig `yaml:"tls"`
}

// AuthConfig specifies the authentication mode for a source.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header carries the key when Mode == "apikey"; KeyEnv names its variable.
	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the bearer token variable.
	TokenEnv string `yaml:"token_env"`

	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds TLS dial options.
type TLSConfig struct {
	CAFile     string `yaml:"ca_file"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	ServerName string `yaml:"server_name"`

	// InsecureSkipVerify disables certificate verification.
	// Only use this for development sinks.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Level returns the configured log level. LOGMET_LOG_LEVEL wins over the
// file; anything unparseable falls back to warn.
func (c *Config) Level() slog.Level {
	s := c.LogLevel
	if env := os.Getenv(LevelEnv); env != "" {
		s = env
	}
	lvl, err := ParseLevel(s)
	if err != nil {
		return slog.LevelWarn
	}
	return lvl
}

// ParseLevel maps debug | info | warn | error (any case) to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelWarn, fmt.Errorf("config: unknown log level %q", s)
	}
	return lvl, nil
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Agent: AgentConfig{
			Port:            DefaultPort,
			RecordType:      DefaultRecordType,
			MetricsAddr:     DefaultMetricsAddr,
			ScrapeInterval:  DefaultScrapeInterval,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	a := cfg.Agent
	if a.ServerEndpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("agent.port %d is out of range", a.Port)
	}
	if a.TenantID == "" {
		return fmt.Errorf("agent.tenant_id is required")
	}
	if a.TokenEnv == "" {
		return fmt.Errorf("agent.token_env is required")
	}
	if a.BufferSize < 0 || a.MaxUnacked < 0 {
		return fmt.Errorf("agent.buffer_size and agent.max_unacked must not be negative")
	}
	if a.ScrapeInterval <= 0 {
		return fmt.Errorf("agent.scrape_interval must be positive")
	}
	if a.RecordType == "" {
		return fmt.Errorf("agent.record_type must not be empty")
	}
	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" || r.Condition == "" {
			return fmt.Errorf("alerts.rules[%d]: name and condition are required", i)
		}
		switch r.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("alerts.rules[%d] %q: unknown severity %q", i, r.Name, r.Severity)
		}
	}
	for i, w := range cfg.Alerts.Webhooks {
		switch w.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
	}
	seen := make(map[string]bool, len(a.Sources))
	for i, src := range a.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true
		if src.Endpoint == "" {
			return fmt.Errorf("sources[%d] %q: endpoint is required", i, src.ID)
		}
		switch src.Type {
		case "otelcol", "prometheus", "loki", "fluentbit", "http":
		default:
			return fmt.Errorf("sources[%d] %q: unknown type %q", i, src.ID, src.Type)
		}
		switch src.Auth.Mode {
		case "mtls", "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("sources[%d] %q: unknown auth mode %q", i, src.ID, src.Auth.Mode)
		}
	}
	return nil
}
