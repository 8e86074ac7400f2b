package corelink

import (
	"crypto/tls"
	"crypto/x509"
	"embed"
	"fmt"
	"io/fs"
)

// Controller CA certificates bundled with the binary. The controller
// presents a certificate chained to one of these; no system roots are
// consulted.
//
//go:embed certs/*.pem
var trustFS embed.FS

// newTrustConfig parses every embedded certificate into a trust pool and
// returns the TLS configuration shared by both session slots.
//
// This runs once at construction. A certificate that fails to parse aborts
// client creation with ErrCertificateSetup; trust setup is never retried.
func newTrustConfig() (*tls.Config, error) {
	entries, err := fs.ReadDir(trustFS, "certs")
	if err != nil {
		return nil, fmt.Errorf("%w: reading embedded bundle: %w", ErrCertificateSetup, err)
	}

	pool := x509.NewCertPool()
	loaded := 0
	for _, entry := range entries {
		name := "certs/" + entry.Name()
		pem, err := trustFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %w", ErrCertificateSetup, name, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: %s contains no parseable certificate", ErrCertificateSetup, name)
		}
		loaded++
	}
	if loaded == 0 {
		return nil, fmt.Errorf("%w: embedded bundle is empty", ErrCertificateSetup)
	}

	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}
