package server

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/jupyterwire/internal/config"
)

var (
	ErrTLSKeyFileRequired = errors.New("server: tls key file required")
	ErrTLSClientCAEmpty   = errors.New("server: tls client ca has no certificates")
)

func serverTLSConfig(t config.AdminTLS) (*tls.Config, error) {
	if t.KeyFile == "" {
		return nil, ErrTLSKeyFileRequired
	}
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load admin certificate: %w", err)
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if t.ClientCAFile != "" {
		pem, err := os.ReadFile(t.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("read admin client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, ErrTLSClientCAEmpty
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}
