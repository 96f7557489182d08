// Package tlsutil builds client-side TLS configurations for the IMAP and
// SMTP connections the relay opens.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ClientConfig returns a tls.Config for outgoing connections. When
// caFile is non-empty, its PEM certificates are added to the system
// roots. insecure disables verification entirely and is meant for
// development against self-signed servers.
func ClientConfig(caFile string, insecure bool) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if insecure {
		cfg.InsecureSkipVerify = true
		return cfg, nil
	}

	if caFile != "" {
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}

		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}
