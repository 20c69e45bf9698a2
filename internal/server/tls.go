package server

import (
	"crypto/tls"
	"fmt"

	"github.com/oxlabs/ox-webservice/internal/config"
)

// newTLSConfig builds the SNI certificate table for an https listener.
// The table is immutable after startup; certificate rotation means a
// restart.
func newTLSConfig(hosts []config.Host) (*tls.Config, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("https listener has no hosts")
	}

	certs := make(map[string]*tls.Certificate, len(hosts))
	var fallback *tls.Certificate
	for _, h := range hosts {
		cert, err := tls.LoadX509KeyPair(h.Cert, h.Key)
		if err != nil {
			return nil, fmt.Errorf("loading certificate for %s: %w", h.Name, err)
		}
		certs[h.Name] = &cert
		if h.Default || fallback == nil {
			fallback = &cert
		}
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			if cert, ok := certs[hello.ServerName]; ok {
				return cert, nil
			}
			return fallback, nil
		},
	}, nil
}
