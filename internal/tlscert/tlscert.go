package tlscert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"netmaster/internal/logger"
)

const Validity = 365 * 24 * time.Hour

// Provider yields the server certificate, creating a self-signed one at
// CertFile/KeyFile when the pair is missing, unreadable or expired.
type Provider struct {
	CertFile string
	KeyFile  string
	Hostname string

	log *logger.Logger
	now func() time.Time
}

func NewProvider(certFile, keyFile, hostname string, log *logger.Logger) *Provider {
	if hostname == "" {
		hostname = "localhost"
	}
	return &Provider{CertFile: certFile, KeyFile: keyFile, Hostname: hostname, log: log, now: time.Now}
}

func (p *Provider) TLSConfig() (*tls.Config, error) {
	cert, err := p.load()
	if err != nil {
		p.log.Warn("generating self-signed certificate", "cert", p.CertFile, "reason", err)
		if err := p.generate(); err != nil {
			return nil, err
		}
		if cert, err = p.load(); err != nil {
			return nil, err
		}
	}
	return &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}, nil
}

func (p *Provider) load() (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(p.CertFile, p.KeyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return tls.Certificate{}, err
	}
	now := p.now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return tls.Certificate{}, errors.New("certificate expired or not yet valid")
	}
	cert.Leaf = leaf
	return cert, nil
}

func (p *Provider) generate() error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("tlscert: generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("tlscert: serial: %w", err)
	}
	now := p.now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: p.Hostname, Organization: []string{"NetMaster"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(Validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dedupe(p.Hostname, "localhost"),
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("tlscert: create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("tlscert: marshal key: %w", err)
	}
	if err := writePEM(p.CertFile, "CERTIFICATE", der, 0o644); err != nil {
		return err
	}
	return writePEM(p.KeyFile, "EC PRIVATE KEY", keyDER, 0o600)
}

func writePEM(path, typ string, der []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("tlscert: %w", err)
	}
	b := pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
	if err := os.WriteFile(path, b, mode); err != nil {
		return fmt.Errorf("tlscert: write %s: %w", path, err)
	}
	return nil
}

func dedupe(names ...string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
