package producer

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Defaults applied by New to zero-valued Config fields.
const (
	DefaultBufferSize    = 50
	DefaultMaxUnacked    = 100
	DefaultRetryInitial  = 2 * time.Second
	DefaultRetryMax      = 15 * time.Minute
	DefaultIdleTimeout   = 30 * time.Second
	DefaultTerminatePoll = 300 * time.Millisecond

	clientIDPrefix = "standalone_dlms_data_client_v0.0.1_"
)

// Config is supplied once at construction; there is no runtime
// reconfiguration.
type Config struct {
	// Endpoint and Port address the Lumberjack service.
	Endpoint string
	Port     int

	// TenantID is a tenant (space) id, or a supertenant id when SuperTenant
	// is set.
	TenantID    string
	Token       string
	SuperTenant bool

	// BufferSize bounds the pending buffer (default 50).
	BufferSize int

	// MaxUnacked bounds the records in flight (default 100). 1 gives
	// strict stop-and-wait delivery.
	MaxUnacked int

	// ClientID is sent in the identification frame. Defaults to
	// "standalone_dlms_data_client_v0.0.1_<hostname>".
	ClientID string

	// TLS is used for the transport session. Nil means system roots and
	// Endpoint as server name.
	TLS *tls.Config

	RetryInitial  time.Duration
	RetryMax      time.Duration
	IdleTimeout   time.Duration
	TerminatePoll time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Registerer receives the producer metrics when non-nil.
	Registerer prometheus.Registerer
}

// Addr returns the host:port of the service.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Endpoint, strconv.Itoa(c.Port))
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.MaxUnacked <= 0 {
		c.MaxUnacked = DefaultMaxUnacked
	}
	if c.ClientID == "" {
		host, _ := os.Hostname()
		c.ClientID = clientIDPrefix + host
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = DefaultRetryInitial
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.TerminatePoll <= 0 {
		c.TerminatePoll = DefaultTerminatePoll
	}
	if c.TLS == nil {
		c.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if c.TLS.ServerName == "" {
		c.TLS = c.TLS.Clone()
		c.TLS.ServerName = c.Endpoint
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func (c Config) validate() error {
	if c.Endpoint == "" {
		return errors.New("producer: endpoint is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("producer: port %d is out of range [1, 65535]", c.Port)
	}
	if c.TenantID == "" {
		return errors.New("producer: tenant id is required")
	}
	if c.Token == "" {
		return errors.New("producer: token is required")
	}
	for name, v := range map[string]string{"tenant id": c.TenantID, "token": c.Token, "client id": c.ClientID} {
		if len(v) > 255 {
			return fmt.Errorf("producer: %s is %d bytes, limit is 255", name, len(v))
		}
	}
	if c.RetryMax < c.RetryInitial {
		return fmt.Errorf("producer: retry max %v is below retry initial %v", c.RetryMax, c.RetryInitial)
	}
	return nil
}
