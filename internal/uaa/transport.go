package uaa

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/chinmina/directory-bridge/internal/config"
)

// NewHTTPClient creates the client used for every provider request. TLS
// verification is always on; a configured CA bundle is trusted in addition to
// the system roots. The wrap function decorates the transport, typically with
// telemetry.
func NewHTTPClient(cfg config.UAAConfig, transport *http.Transport, wrap func(http.RoundTripper) http.RoundTripper) (*http.Client, error) {
	transport = transport.Clone()

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.CAFile != "" {
		pool, err := loadCertPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}
	transport.TLSClientConfig = tlsConfig

	var rt http.RoundTripper = transport
	if wrap != nil {
		rt = wrap(rt)
	}

	return &http.Client{
		Transport: rt,
		Timeout:   time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
	}, nil
}

func loadCertPool(caFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("could not read CA file: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}

	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in CA file %s", caFile)
	}

	return pool, nil
}
