// Package dnsauth implements the authoritative DNS resolver: a dual-UDP/TCP
// miekg/dns server that answers from the Config Store's zone data, resolves
// dynamic A/AAAA records via PTR matching, and exposes the mutation API
// the SSL Engine uses to complete ACME DNS-01 challenges.
package dnsauth

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/odac-run/odac/internal/clock"
	"github.com/odac-run/odac/internal/configstore"
	"github.com/odac-run/odac/internal/hostctl"
	"github.com/odac-run/odac/internal/logging"
	"github.com/odac-run/odac/internal/metrics"
	"github.com/odac-run/odac/internal/model"
)

// candidatePorts are tried in order when the preferred port is unavailable.
var candidatePorts = []string{"53", "5353", "1053", "8053"}

// Server is the authoritative DNS resolver bound to UDP+TCP.
type Server struct {
	cfg  *configstore.Store
	log  *logging.Logger
	clk  clock.Clock
	host hostctl.Controller

	limiter *rateLimiter
	ptrs    *ptrCache

	udp  *dns.Server
	tcp  *dns.Server
	port string

	tookOverPort53 bool
}

// Config configures the rate limiter; everything else is sourced from the
// config store at construction time.
type Config struct {
	RateLimitEnabled bool
	RateLimitMax     int
	RateLimitWindow  time.Duration
	PublicNameserver string // not read; Start always points the host resolver at 1.1.1.1
}

// New creates a Server bound to cfg's config store. Start must be called to
// begin serving.
func New(cfg *configstore.Store, log *logging.Logger, clk clock.Clock, host hostctl.Controller, rlCfg Config) *Server {
	return &Server{
		cfg:     cfg,
		log:     log,
		clk:     clk,
		host:    host,
		limiter: newRateLimiter(clk, rlCfg.RateLimitEnabled, rlCfg.RateLimitMax, rlCfg.RateLimitWindow),
		ptrs:    newPTRCache(),
	}
}

// Start binds the resolver, preferring port 53 and falling back through
// candidatePorts. If port 53 is busy it asks the host to reload
// systemd-resolved once and then moves on to the next candidate; port 53
// is not tried again after that reload.
func (s *Server) Start(ctx context.Context) error {
	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handleQuery)

	port, err := s.bind(ctx, mux)
	if err != nil {
		return err
	}
	s.port = port

	if port == "53" && s.host != nil {
		// Best effort: point the host's own stub resolver at a public
		// recursive server since this process now owns port 53.
		_ = s.host.RewriteResolver(ctx, "1.1.1.1")
	}

	go s.refreshPublicIPLoop(ctx)
	return nil
}

func (s *Server) bind(ctx context.Context, mux *dns.ServeMux) (string, error) {
	for i, port := range candidatePorts {
		addr := ":" + port
		udp := &dns.Server{Addr: addr, Net: "udp", Handler: mux}
		tcp := &dns.Server{Addr: addr, Net: "tcp", Handler: mux}

		errCh := make(chan error, 2)
		go func() { errCh <- udp.ListenAndServe() }()
		go func() { errCh <- tcp.ListenAndServe() }()

		// Give the listener goroutines a moment to report a bind failure.
		select {
		case err := <-errCh:
			if err != nil {
				if i == 0 && s.host != nil {
					// Port 53 is likely held by systemd-resolved; ask the
					// host to reload it, then try the next candidate port.
					_ = s.host.ReloadSystemdResolved(ctx)
				}
				continue
			}
		case <-time.After(200 * time.Millisecond):
			s.udp, s.tcp = udp, tcp
			s.log.Info("dns authority listening", "port", port)
			return port, nil
		}
	}
	return "", fmt.Errorf("dns authority: no candidate port available")
}

// Shutdown stops the listeners and restores the host resolver if it was
// rewritten.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.udp != nil {
		_ = s.udp.ShutdownContext(ctx)
	}
	if s.tcp != nil {
		_ = s.tcp.ShutdownContext(ctx)
	}
	if s.port == "53" {
		return s.host.RestoreResolver(ctx)
	}
	return nil
}

func (s *Server) refreshPublicIPLoop(ctx context.Context) {
	s.ptrs.Refresh(ctx, publicIPs(ctx))
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ptrs.Refresh(ctx, publicIPs(ctx))
		}
	}
}

func (s *Server) handleQuery(w dns.ResponseWriter, req *dns.Msg) {
	remote := w.RemoteAddr()
	ip := addrIP(remote)

	rcode := dns.RcodeSuccess
	defer func() {
		metrics.DNSQueriesTotal.WithLabelValues(qtypeLabel(req), dns.RcodeToString[rcode]).Inc()
	}()

	if !s.limiter.Allow(ip) {
		metrics.DNSRateLimited.Add(1)
		rcode = dns.RcodeRefused
		m := new(dns.Msg)
		m.SetRcode(req, dns.RcodeRefused)
		_ = w.WriteMsg(m)
		return
	}

	if len(req.Question) != 1 {
		rcode = dns.RcodeFormatError
		m := new(dns.Msg)
		m.SetRcode(req, dns.RcodeFormatError)
		_ = w.WriteMsg(m)
		return
	}
	q := req.Question[0]

	apex, zone, ok := s.findZone(q.Name)
	if !ok {
		rcode = dns.RcodeNameError
		m := new(dns.Msg)
		m.SetRcode(req, dns.RcodeNameError)
		_ = w.WriteMsg(m)
		return
	}

	m := new(dns.Msg)
	m.SetReply(req)
	m.Authoritative = true

	if q.Qtype == dns.TypeANY {
		// Amplification defense: answer ANY with SOA only.
		m.Answer = append(m.Answer, soaRR(apex, zone.SOA))
		_ = w.WriteMsg(m)
		return
	}

	answers := s.answerFor(apex, zone, q)
	m.Answer = append(m.Answer, answers...)
	_ = w.WriteMsg(m)
}

// PublicIPs returns the host's best-known public IPv4 and IPv6 addresses (as
// seen by the last refreshPublicIPLoop pass), for callers building SPF
// records. Either value may be empty if no address of that family was found.
func (s *Server) PublicIPs() (v4, v6 string) {
	v4ips := publicIPsOfFamily(s.ptrs, dns.TypeA)
	v6ips := publicIPsOfFamily(s.ptrs, dns.TypeAAAA)
	if len(v4ips) > 0 {
		v4 = v4ips[0].String()
	}
	if len(v6ips) > 0 {
		v6 = v6ips[0].String()
	}
	return v4, v6
}

// ApexFor returns the zone apex that owns fqdn, stripping labels from the
// left until a stored zone matches. The SSL Engine uses this to route an
// ACME DNS-01 challenge for an arbitrary domain to the right zone mutation.
func (s *Server) ApexFor(fqdn string) (string, bool) {
	apex, _, ok := s.findZone(fqdn)
	return apex, ok
}

// findZone strips labels from the left until a stored zone apex matches.
func (s *Server) findZone(qname string) (string, model.Zone, bool) {
	name := strings.TrimSuffix(strings.ToLower(qname), ".")
	labels := strings.Split(name, ".")
	for i := 0; i < len(labels); i++ {
		candidate := strings.Join(labels[i:], ".")
		if z, ok := s.cfg.DNS().Zone(candidate); ok {
			return candidate, z, true
		}
	}
	return "", model.Zone{}, false
}

func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil
		}
		return net.ParseIP(host)
	}
}

func qtypeLabel(req *dns.Msg) string {
	if len(req.Question) == 0 {
		return "UNKNOWN"
	}
	return dns.TypeToString[req.Question[0].Qtype]
}
