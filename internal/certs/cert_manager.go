package certs

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// CertManager loads the server's TLS key pair and serves it to the listener.
// Reload swaps the pair in place so a renewed certificate is picked up
// without a restart.
type CertManager struct {
	certFile string
	keyFile  string

	mu   sync.RWMutex
	cert *tls.Certificate
}

// NewCertManager creates a CertManager for the given certificate and key files.
func NewCertManager(certFile, keyFile string) *CertManager {
	return &CertManager{certFile: certFile, keyFile: keyFile}
}

// Reload reads the key pair from disk and returns its leaf certificate.
func (cm *CertManager) Reload() (*x509.Certificate, error) {
	pair, err := tls.LoadX509KeyPair(cm.certFile, cm.keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	leaf := pair.Leaf
	if leaf == nil {
		if leaf, err = x509.ParseCertificate(pair.Certificate[0]); err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		pair.Leaf = leaf
	}

	cm.mu.Lock()
	cm.cert = &pair
	cm.mu.Unlock()
	return leaf, nil
}

// GetCertificate satisfies tls.Config.GetCertificate.
func (cm *CertManager) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.cert == nil {
		return nil, errors.New("no certificate loaded")
	}
	return cm.cert, nil
}

// TLSConfig loads the key pair and returns a server config using it.
func (cm *CertManager) TLSConfig() (*tls.Config, *x509.Certificate, error) {
	leaf, err := cm.Reload()
	if err != nil {
		return nil, nil, err
	}
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: cm.GetCertificate,
	}, leaf, nil
}

// LoadCertificate loads a PEM certificate from a file.
func LoadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to parse certificate PEM")
	}

	return x509.ParseCertificate(block.Bytes)
}

// IsExpired checks if a certificate is expired.
func IsExpired(cert *x509.Certificate) bool {
	return cert.NotAfter.Before(time.Now())
}

// ExpiresWithin reports whether cert expires in less than d.
func ExpiresWithin(cert *x509.Certificate, d time.Duration) bool {
	return cert.NotAfter.Before(time.Now().Add(d))
}
