package dnsauth

import (
	"fmt"
	"net"

	"github.com/miekg/dns"

	"github.com/odac-run/odac/internal/model"
)

// defaultTTL is used for synthesized records (SOA header, CAA defaults)
// that have no stored TTL of their own.
const defaultTTL = 300

func soaRR(apex string, soa model.SOA) dns.RR {
	var serial uint32
	fmt.Sscanf(soa.Serial, "%d", &serial)
	return &dns.SOA{
		Hdr:     dns.RR_Header{Name: dns.Fqdn(apex), Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: uint32(soa.TTL)},
		Ns:      dns.Fqdn(soa.Primary),
		Mbox:    dns.Fqdn(soa.Email),
		Serial:  serial,
		Refresh: uint32(soa.Refresh),
		Retry:   uint32(soa.Retry),
		Expire:  uint32(soa.Expire),
		Minttl:  uint32(soa.Minimum),
	}
}

// answerFor builds the answer set for a single question against the
// resolved zone, handling per-type record lookup, dynamic A/AAAA
// resolution, and CAA synthesis. Unknown types return no records (NODATA).
func (s *Server) answerFor(apex string, zone model.Zone, q dns.Question) []dns.RR {
	switch q.Qtype {
	case dns.TypeSOA:
		return []dns.RR{soaRR(apex, zone.SOA)}
	case dns.TypeA:
		return s.dynamicAddressAnswers(apex, zone, q.Name, dns.TypeA)
	case dns.TypeAAAA:
		return s.dynamicAddressAnswers(apex, zone, q.Name, dns.TypeAAAA)
	case dns.TypeCNAME:
		return staticAnswers(zone, q.Name, model.RRTypeCNAME, func(name, value string, ttl uint32) dns.RR {
			return &dns.CNAME{Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: ttl}, Target: dns.Fqdn(value)}
		})
	case dns.TypeMX:
		return mxAnswers(zone, q.Name)
	case dns.TypeTXT:
		return staticAnswers(zone, q.Name, model.RRTypeTXT, func(name, value string, ttl uint32) dns.RR {
			return &dns.TXT{Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: ttl}, Txt: []string{value}}
		})
	case dns.TypeNS:
		return staticAnswers(zone, q.Name, model.RRTypeNS, func(name, value string, ttl uint32) dns.RR {
			return &dns.NS{Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: ttl}, Ns: dns.Fqdn(value)}
		})
	case dns.TypeCAA:
		return caaAnswers(zone, q.Name)
	default:
		return nil
	}
}

func staticAnswers(zone model.Zone, qname string, rrType model.RRType, build func(name, value string, ttl uint32) dns.RR) []dns.RR {
	var out []dns.RR
	name := stripTrailingDot(qname)
	for _, rec := range zone.Records {
		if rec.Type != rrType || !nameMatches(rec.Name, name, zone.Apex) {
			continue
		}
		out = append(out, build(dns.Fqdn(qname), rec.Value, uint32(rec.TTL)))
	}
	return out
}

func mxAnswers(zone model.Zone, qname string) []dns.RR {
	var out []dns.RR
	name := stripTrailingDot(qname)
	for _, rec := range zone.Records {
		if rec.Type != model.RRTypeMX || !nameMatches(rec.Name, name, zone.Apex) {
			continue
		}
		out = append(out, &dns.MX{
			Hdr:        dns.RR_Header{Name: dns.Fqdn(qname), Rrtype: dns.TypeMX, Class: dns.ClassINET, Ttl: uint32(rec.TTL)},
			Preference: uint16(rec.Priority),
			Mx:         dns.Fqdn(rec.Value),
		})
	}
	return out
}

// caaAnswers returns stored CAA records for qname, or synthesizes default
// Let's Encrypt issue/issuewild records if none are explicitly configured.
func caaAnswers(zone model.Zone, qname string) []dns.RR {
	name := stripTrailingDot(qname)
	var out []dns.RR
	for _, rec := range zone.Records {
		if rec.Type != model.RRTypeCAA || !nameMatches(rec.Name, name, zone.Apex) {
			continue
		}
		out = append(out, &dns.CAA{
			Hdr:   dns.RR_Header{Name: dns.Fqdn(qname), Rrtype: dns.TypeCAA, Class: dns.ClassINET, Ttl: uint32(rec.TTL)},
			Flag:  0,
			Tag:   "issue",
			Value: rec.Value,
		})
	}
	if len(out) > 0 {
		return out
	}
	for _, tag := range []string{"issue", "issuewild"} {
		out = append(out, &dns.CAA{
			Hdr:   dns.RR_Header{Name: dns.Fqdn(qname), Rrtype: dns.TypeCAA, Class: dns.ClassINET, Ttl: defaultTTL},
			Flag:  0,
			Tag:   tag,
			Value: "letsencrypt.org",
		})
	}
	return out
}

// dynamicAddressAnswers handles A/AAAA lookups: records with a stored value
// are returned verbatim, records with no value are resolved at answer time
// via PTR matching.
func (s *Server) dynamicAddressAnswers(apex string, zone model.Zone, qname string, qtype uint16) []dns.RR {
	wantType := model.RRTypeA
	if qtype == dns.TypeAAAA {
		wantType = model.RRTypeAAAA
	}

	name := stripTrailingDot(qname)
	var out []dns.RR
	for _, rec := range zone.Records {
		if rec.Type != wantType || !nameMatches(rec.Name, name, zone.Apex) {
			continue
		}
		value := rec.Value
		if value == "" {
			all := publicIPsOfFamily(s.ptrs, qtype)
			primary := primaryIPv4(all)
			ip := s.ptrs.Resolve(qname, all, primary)
			if ip == nil {
				continue
			}
			value = ip.String()
		}
		out = append(out, addressRR(qname, value, qtype, uint32(rec.TTL)))
	}
	return out
}

func addressRR(qname, value string, qtype uint16, ttl uint32) dns.RR {
	if qtype == dns.TypeAAAA {
		return &dns.AAAA{Hdr: dns.RR_Header{Name: dns.Fqdn(qname), Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttl}, AAAA: net.ParseIP(value)}
	}
	return &dns.A{Hdr: dns.RR_Header{Name: dns.Fqdn(qname), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl}, A: net.ParseIP(value)}
}

func publicIPsOfFamily(cache *ptrCache, qtype uint16) []net.IP {
	var out []net.IP
	for _, ip := range cache.PublicIPs() {
		isV4 := ip.To4() != nil
		if (qtype == dns.TypeA) == isV4 {
			out = append(out, ip)
		}
	}
	return out
}

func primaryIPv4(ips []net.IP) net.IP {
	for _, ip := range ips {
		if ip.To4() != nil {
			return ip
		}
	}
	return nil
}

// nameMatches reports whether a record's relative name (e.g. "@", "www")
// matches the queried fully-qualified name under apex.
func nameMatches(recordName, queriedName, apex string) bool {
	if recordName == "@" || recordName == "" {
		return queriedName == apex
	}
	return queriedName == recordName+"."+apex
}

func stripTrailingDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}
