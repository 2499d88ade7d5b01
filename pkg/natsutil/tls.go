package natsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/hostpulse/pkg/models"
)

var (
	// ErrNATSTLSMaterialIncomplete is returned when a TLS block is present
	// without both a client cert and key.
	ErrNATSTLSMaterialIncomplete = errors.New("nats tls: cert_file and key_file are required")
	// ErrNATSCAParsingFailed is returned when the CA certificate cannot be parsed.
	ErrNATSCAParsingFailed = errors.New("nats tls: failed to parse CA certificate")
)

// TLSOptions builds the nats.Options for mTLS from the broker configuration.
// It returns nothing when no TLS block is configured.
func TLSOptions(cfg *models.NATSConfig) ([]nats.Option, error) {
	if cfg == nil || cfg.TLS == nil {
		return nil, nil
	}

	certFile := resolveTLSPath(cfg.CertDir, cfg.TLS.CertFile)
	keyFile := resolveTLSPath(cfg.CertDir, cfg.TLS.KeyFile)

	if certFile == "" || keyFile == "" {
		return nil, ErrNATSTLSMaterialIncomplete
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("nats tls: failed to load client certificate: %w", err)
	}

	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   cfg.ServerName,
		MinVersion:   tls.VersionTLS13,
	}

	if cfg.TLS.CAFile != "" {
		caCert, err := os.ReadFile(resolveTLSPath(cfg.CertDir, cfg.TLS.CAFile))
		if err != nil {
			return nil, fmt.Errorf("nats tls: failed to read CA certificate: %w", err)
		}

		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, ErrNATSCAParsingFailed
		}

		tlsConf.RootCAs = caPool
	}

	return []nats.Option{nats.Secure(tlsConf)}, nil
}

func resolveTLSPath(certDir, path string) string {
	if path == "" || filepath.IsAbs(path) || certDir == "" {
		return path
	}

	return filepath.Join(certDir, path)
}
