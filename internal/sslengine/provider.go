package sslengine

import (
	"fmt"
	"time"

	"github.com/go-acme/lego/v4/challenge/dns01"
)

// DNSAuthority is the subset of dnsauth.Server the ACME DNS-01 solver needs:
// routing a domain to its owning zone and publishing/removing the
// well-known challenge TXT record there.
type DNSAuthority interface {
	ApexFor(fqdn string) (string, bool)
	PresentACMEChallenge(apex, host, value string) error
	CleanupACMEChallenge(apex, host, value string)
}

// dnsProvider adapts the DNS Authority to lego's challenge.Provider
// interface, so ACME DNS-01 challenges are solved against this system's own
// zone data instead of a cloud DNS provider plugin.
type dnsProvider struct {
	dns DNSAuthority
}

func newDNSProvider(dns DNSAuthority) *dnsProvider {
	return &dnsProvider{dns: dns}
}

// Present publishes the challenge TXT record for domain.
func (p *dnsProvider) Present(domain, token, keyAuth string) error {
	fqdn, value := dns01.GetRecord(domain, keyAuth)
	apex, ok := p.dns.ApexFor(domain)
	if !ok {
		return fmt.Errorf("sslengine: no zone owns domain %q", domain)
	}
	host := challengeHost(fqdn, apex)
	return p.dns.PresentACMEChallenge(apex, host, value)
}

// CleanUp removes the challenge TXT record for domain.
func (p *dnsProvider) CleanUp(domain, token, keyAuth string) error {
	fqdn, value := dns01.GetRecord(domain, keyAuth)
	apex, ok := p.dns.ApexFor(domain)
	if !ok {
		return nil
	}
	host := challengeHost(fqdn, apex)
	p.dns.CleanupACMEChallenge(apex, host, value)
	return nil
}

// Timeout reports how long and how often lego should poll before giving up
// on DNS propagation. The DNS Authority answers locally, so propagation is
// effectively immediate; a short, generous timeout just guards against
// a slow reload.
func (p *dnsProvider) Timeout() (timeout, interval time.Duration) {
	return 2 * time.Minute, 5 * time.Second
}

// challengeHost strips the apex suffix from the challenge FQDN to produce
// the relative name dnsauth.PresentACMEChallenge expects (it re-prepends
// "_acme-challenge." itself).
func challengeHost(challengeFQDN, apex string) string {
	const prefix = "_acme-challenge."
	name := challengeFQDN
	if len(name) > 0 && name[len(name)-1] == '.' {
		name = name[:len(name)-1]
	}
	rest := name
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		rest = name[len(prefix):]
	}
	apexSuffix := "." + apex
	if len(rest) > len(apexSuffix) && rest[len(rest)-len(apexSuffix):] == apexSuffix {
		return rest[:len(rest)-len(apexSuffix)]
	}
	if rest == apex {
		return ""
	}
	return rest
}
