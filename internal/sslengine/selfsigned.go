package sslengine

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/odac-run/odac/internal/model"
)

const selfSignedValidity = 365 * 24 * time.Hour

// generateSelfSigned builds a one-year self-signed certificate used as the
// default SNI certificate before any domain has a real one.
func generateSelfSigned(now time.Time) (model.SSLMaterial, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return model.SSLMaterial{}, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return model.SSLMaterial{}, fmt.Errorf("generate serial: %w", err)
	}

	notAfter := now.Add(selfSignedValidity)
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "odac self-signed"},
		NotBefore:             now,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return model.SSLMaterial{}, fmt.Errorf("create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return model.SSLMaterial{}, fmt.Errorf("marshal key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return model.SSLMaterial{
		Key:    string(keyPEM),
		Cert:   string(certPEM),
		Expiry: notAfter,
	}, nil
}

// selfSignedExpired reports whether the system fallback certificate is
// absent or has already expired.
func selfSignedExpired(m model.SSLMaterial, now time.Time) bool {
	return m.Cert == "" || !now.Before(m.Expiry)
}
