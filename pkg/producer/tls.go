package producer

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSFiles names the PEM files used to build a client TLS configuration.
// All fields are optional.
type TLSFiles struct {
	CAFile   string
	CertFile string
	KeyFile  string

	// ServerName overrides the name verified against the service certificate.
	ServerName string

	// InsecureSkipVerify disables certificate verification. Development only.
	InsecureSkipVerify bool
}

// LoadTLSConfig builds a client tls.Config from PEM files. A client
// certificate is loaded when both CertFile and KeyFile are set; CAFile
// replaces the system roots.
func LoadTLSConfig(files TLSFiles) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         files.ServerName,
		InsecureSkipVerify: files.InsecureSkipVerify, //nolint:gosec // opt-in for local sinks
	}

	switch {
	case files.CertFile != "" && files.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	case files.CertFile != "" || files.KeyFile != "":
		return nil, fmt.Errorf("client cert needs both cert_file and key_file")
	}

	if files.CAFile != "" {
		pool, err := LoadCertPool(files.CAFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}

// LoadCertPool reads a PEM bundle into a new pool.
func LoadCertPool(path string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no valid certs in ca file %q", path)
	}
	return pool, nil
}
