package domains

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"
)

// Certificate describes the leaf certificate a domain serves.
type Certificate struct {
	Subject  string    `json:"subject"`
	Issuer   string    `json:"issuer"`
	NotAfter time.Time `json:"notAfter"`
}

// CertChecker connects to a domain over TLS and verifies the certificate chain and host name.
type CertChecker struct {
	port    string
	roots   *x509.CertPool
	timeout time.Duration
}

type CertOption func(*CertChecker)

// WithPort overrides the default port 443.
func WithPort(port string) CertOption {
	return func(c *CertChecker) { c.port = port }
}

// WithRoots replaces the system trust store.
func WithRoots(roots *x509.CertPool) CertOption {
	return func(c *CertChecker) { c.roots = roots }
}

func WithTimeout(d time.Duration) CertOption {
	return func(c *CertChecker) { c.timeout = d }
}

func NewCertChecker(opts ...CertOption) *CertChecker {
	c := &CertChecker{port: "443", timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check returns the served certificate when it is trusted and valid for domain.
func (c *CertChecker) Check(ctx context.Context, domain string) (*Certificate, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: c.timeout},
		Config: &tls.Config{
			ServerName: domain,
			RootCAs:    c.roots,
			MinVersion: tls.VersionTLS12,
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(domain, c.port))
	if err != nil {
		return nil, fmt.Errorf("tls handshake with %s: %w", domain, err)
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil, errors.New("not a tls connection")
	}
	peers := tlsConn.ConnectionState().PeerCertificates
	if len(peers) == 0 {
		return nil, errors.New("no peer certificates")
	}
	leaf := peers[0]
	return &Certificate{
		Subject:  leaf.Subject.CommonName,
		Issuer:   leaf.Issuer.CommonName,
		NotAfter: leaf.NotAfter,
	}, nil
}
