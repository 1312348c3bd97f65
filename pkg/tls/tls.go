// Package tls builds TLS configurations for the forecaster's HTTP server and
// for the client it uses to reach remote inference endpoints.
//
// Both sides require TLS 1.3. The server always verifies client certificates
// against the configured CA. The client verifies the server against the CA
// and presents a certificate only when one is configured.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Config holds certificate file paths.
type Config struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	CAFile   string
}

// Validate checks that the files of an enabled configuration exist.
// CertFile and KeyFile must be set together.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CAFile == "" {
		return errors.New("tls enabled but CA file not specified")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("tls cert and key files must be specified together")
	}

	for _, path := range []string{c.CertFile, c.KeyFile, c.CAFile} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("tls file %q: %w", path, err)
		}
	}
	return nil
}

var cipherSuites = []uint16{
	tls.TLS_AES_128_GCM_SHA256,
	tls.TLS_AES_256_GCM_SHA384,
	tls.TLS_CHACHA20_POLY1305_SHA256,
}

// NewServerTLSConfig returns a mutual TLS server configuration. The server
// certificate itself is passed to Server.StartTLS.
func NewServerTLSConfig(c Config) (*tls.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.CertFile == "" {
		return nil, errors.New("server tls requires a certificate and key")
	}

	pool, err := loadCAPool(c.CAFile)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
		CipherSuites: cipherSuites,
	}, nil
}

// NewClientTLSConfig returns a client configuration trusting the CA and
// presenting the configured certificate, if any.
func NewClientTLSConfig(c Config) (*tls.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	pool, err := loadCAPool(c.CAFile)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
		CipherSuites: cipherSuites,
	}
	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func loadCAPool(caFile string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA certificate")
	}
	return pool, nil
}
