package dnsauth

import "github.com/odac-run/odac/internal/model"

// Record adds or updates a record in the given zone via the config store,
// bumping the zone's SOA serial. This is the mutation entry point used by
// the Domain Manager and the ACME challenge provider.
func (s *Server) Record(apex string, rec model.Record) (model.Record, error) {
	return s.cfg.DNS().AddRecord(apex, rec)
}

// Delete removes records matching (type, name, optional value) from the
// given zone.
func (s *Server) Delete(apex string, rrType model.RRType, name, value string) int {
	return s.cfg.DNS().DeleteRecords(apex, rrType, name, value)
}

// EnsureZone creates the zone for apex if it doesn't already exist.
func (s *Server) EnsureZone(apex, primaryNS, hostmaster string) model.Zone {
	return s.cfg.DNS().EnsureZone(apex, primaryNS, hostmaster)
}

// acmeChallengeName is the well-known TXT record name for DNS-01 challenges.
// An empty host names the challenge at the zone apex itself (used when
// issuing for the bare domain rather than a subdomain).
func acmeChallengeName(host string) string {
	if host == "" {
		return "_acme-challenge"
	}
	return "_acme-challenge." + host
}

// PresentACMEChallenge inserts the TXT record the ACME DNS-01 provider
// publishes for a challenge. TTL is fixed at 100s per the low-latency
// propagation requirement of a short-lived challenge record.
func (s *Server) PresentACMEChallenge(apex, host, value string) error {
	_, err := s.Record(apex, model.Record{
		Type:   model.RRTypeTXT,
		Name:   acmeChallengeName(host),
		Value:  value,
		TTL:    100,
		Unique: true,
	})
	return err
}

// CleanupACMEChallenge removes the TXT record created by
// PresentACMEChallenge.
func (s *Server) CleanupACMEChallenge(apex, host, value string) {
	s.Delete(apex, model.RRTypeTXT, acmeChallengeName(host), value)
}
