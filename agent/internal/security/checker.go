package security

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"time"
)

// Certificate states reported by Check.
const (
	StatusValid       = "valid"
	StatusExpiring    = "expiring"
	StatusExpired     = "expired"
	StatusUnreachable = "unreachable"
)

// expiringWithin is the remaining lifetime below which a certificate is
// reported as expiring.
const expiringWithin = 30 * 24 * time.Hour

// CertStatus describes the leaf certificate presented by the ingest service.
type CertStatus struct {
	Endpoint string    `json:"endpoint"`
	Status   string    `json:"status"`
	Issuer   string    `json:"issuer,omitempty"`
	Subject  string    `json:"subject,omitempty"`
	NotAfter time.Time `json:"not_after,omitempty"`
	DaysLeft int       `json:"days_left"`
	Err      string    `json:"error,omitempty"`
}

// Checker dials an endpoint over TLS and inspects its leaf certificate.
type Checker struct {
	tlsCfg  *tls.Config
	timeout time.Duration
	now     func() time.Time // injectable for tests
}

// NewChecker returns a Checker that verifies with tlsCfg. A nil tlsCfg uses
// system roots.
func NewChecker(tlsCfg *tls.Config) *Checker {
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &Checker{tlsCfg: tlsCfg, timeout: 10 * time.Second, now: time.Now}
}

// Check dials addr (host:port) and reports the leaf certificate state. The
// handshake is verified, so an untrusted certificate shows up as
// unreachable with the verification error.
//
// A 10-second dial timeout keeps a slow host from blocking agent startup.
func (c *Checker) Check(ctx context.Context, addr string) CertStatus {
	cs := CertStatus{Endpoint: addr}

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cfg := c.tlsCfg.Clone()
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			cfg.ServerName = host
		}
	}
	dialer := &tls.Dialer{NetDialer: &net.Dialer{}, Config: cfg}

	netConn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		cs.Status = StatusUnreachable
		cs.Err = err.Error()
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = StatusUnreachable
		return cs
	}

	leaf := peerCerts[0]
	left := leaf.NotAfter.Sub(c.now())

	cs.NotAfter = leaf.NotAfter.UTC()
	cs.Issuer = leaf.Issuer.CommonName
	cs.Subject = leaf.Subject.CommonName
	cs.DaysLeft = int(math.Floor(left.Hours() / 24))

	switch {
	case left <= 0:
		cs.Status = StatusExpired
	case left <= expiringWithin:
		cs.Status = StatusExpiring
	default:
		cs.Status = StatusValid
	}
	return cs
}
