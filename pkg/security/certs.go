package security

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/conduit/pkg/log"
)

const (
	// Warn when a pinned CA expires in less than 30 days
	certExpiryWarning = 30 * 24 * time.Hour

	// Default state directory under the user's home
	defaultStateDir = ".conduit"
)

// StateDir returns the directory holding conduit's local state
// (credentials, sealing key, job snapshots).
func StateDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, defaultStateDir), nil
}

// LoadCACertFromFile loads a PEM CA bundle and returns its certificates
func LoadCACertFromFile(path string) ([]*x509.Certificate, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, caPEM = pem.Decode(caPEM)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, fmt.Errorf("failed to decode CA certificate PEM")
	}
	return certs, nil
}

// CertExpiresSoon reports whether cert expires within the warning window
func CertExpiresSoon(cert *x509.Certificate) bool {
	return time.Until(cert.NotAfter) < certExpiryWarning
}

// ClientTLSConfig builds the TLS configuration used to reach the console
// API. With an empty caFile the system roots are used.
func ClientTLSConfig(caFile string, insecureSkipVerify bool) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecureSkipVerify, //nolint:gosec // opt-in for local dev servers
	}
	if caFile == "" {
		return cfg, nil
	}

	certs, err := LoadCACertFromFile(caFile)
	if err != nil {
		return nil, err
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	for _, cert := range certs {
		if CertExpiresSoon(cert) {
			log.Logger.Warn().
				Str("subject", cert.Subject.CommonName).
				Time("not_after", cert.NotAfter).
				Msg("Pinned CA certificate expires soon")
		}
		pool.AddCert(cert)
	}
	cfg.RootCAs = pool
	return cfg, nil
}
