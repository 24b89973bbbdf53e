package sslengine

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"time"
)

// expectedSANs builds the SAN set a domain's certificate must cover: the
// domain itself plus every subdomain folded into it.
func expectedSANs(domain string, subdomains []string) []string {
	sans := make([]string, 0, 1+len(subdomains))
	sans = append(sans, domain)
	for _, sub := range subdomains {
		sans = append(sans, sub+"."+domain)
	}
	return sans
}

// needsRenewal evaluates the three trigger conditions against a PEM
// certificate: absence, approaching expiry, and SAN mismatch against the
// domain's current expected set.
func needsRenewal(certPEM []byte, expected []string, now time.Time, renewWithin time.Duration) (bool, string) {
	if len(certPEM) == 0 {
		return true, "no certificate on disk"
	}
	cert, err := parseCertPEM(certPEM)
	if err != nil {
		return true, "unparseable certificate: " + err.Error()
	}
	if now.Add(renewWithin).After(cert.NotAfter) {
		return true, "expiry within renewal window"
	}
	if missing := missingSANs(cert.DNSNames, expected); len(missing) > 0 {
		return true, "SAN mismatch: missing " + missing[0]
	}
	return false, ""
}

func parseCertPEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("invalid certificate PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}

// missingSANs returns every expected name absent from have.
func missingSANs(have, expected []string) []string {
	set := make(map[string]bool, len(have))
	for _, n := range have {
		set[n] = true
	}
	var missing []string
	for _, want := range expected {
		if !set[want] {
			missing = append(missing, want)
		}
	}
	return missing
}
