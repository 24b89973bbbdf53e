// Package domains implements the Domain Manager: validated domain
// registration with subdomain folding into an owning parent, and the
// DNS/SSL/Proxy cascade that a domain add/delete triggers.
package domains

import (
	"context"
	"fmt"

	"github.com/odac-run/odac/internal/clock"
	"github.com/odac-run/odac/internal/configstore"
	"github.com/odac-run/odac/internal/events"
	"github.com/odac-run/odac/internal/logging"
	"github.com/odac-run/odac/internal/model"
)

// DNSAuthority is the subset of the DNS Authority's mutation API the
// Domain Manager drives directly.
type DNSAuthority interface {
	EnsureZone(apex, primaryNS, hostmaster string) model.Zone
	Record(apex string, rec model.Record) (model.Record, error)
	Delete(apex string, rrType model.RRType, name, value string) int
	PublicIPs() (v4, v6 string)
}

// SSLTrigger is the subset of the SSL Engine the Domain Manager drives to
// (re)issue a certificate after a domain's SAN set changes.
type SSLTrigger interface {
	RequestRenewal(ctx context.Context, domain string)
}

// ProxySync is the subset of Proxy Sync the Domain Manager drives after
// any domain mutation, win or lose.
type ProxySync interface {
	Trigger(reason string)
}

// Config holds the values baked into every zone and record this manager
// creates.
type Config struct {
	PrimaryNS  string // e.g. "ns1.odac.run"
	Hostmaster string // SOA RNAME, e.g. "hostmaster.odac.run"
	DefaultTTL int
}

// Manager is the Domain Manager: CRUD over Domain records, folding
// subdomains of an app's existing domain into it instead of minting a new
// zone, and driving DNS, SSL, and Proxy Sync as side effects.
type Manager struct {
	cfg   Config
	store *configstore.Store
	dns   DNSAuthority
	ssl   SSLTrigger
	proxy ProxySync
	bus   *events.Bus
	log   *logging.Logger
	clk   clock.Clock
}

// New creates a Manager. It performs no I/O itself.
func New(cfg Config, cs *configstore.Store, dns DNSAuthority, ssl SSLTrigger, proxy ProxySync, bus *events.Bus, log *logging.Logger, clk clock.Clock) *Manager {
	return &Manager{cfg: cfg, store: cs, dns: dns, ssl: ssl, proxy: proxy, bus: bus, log: log, clk: clk}
}

// Add registers domain for appID, folding it into an existing parent
// domain's subdomain list when it is a subdomain of a domain already owned
// by the same app. It always ends by triggering an SSL renewal check and a
// Proxy Sync, even when folding.
func (m *Manager) Add(ctx context.Context, domain, appID string) (model.Domain, error) {
	d := normalize(domain)
	if err := validate(d); err != nil {
		return model.Domain{}, err
	}
	if _, exists := m.store.Domains().Get(d); exists {
		return model.Domain{}, fmt.Errorf("domain %q already registered", d)
	}
	if _, ok := m.store.Apps().Get(appID); !ok {
		return model.Domain{}, fmt.Errorf("app %q does not exist", appID)
	}

	for _, existing := range m.store.Domains().List() {
		label, ok := parentOf(d, existing.FQDN)
		if !ok || existing.AppID != appID {
			continue
		}
		return m.foldSubdomain(ctx, existing.FQDN, label, d)
	}

	return m.createDomain(ctx, d, appID)
}

// foldSubdomain appends label to parent's subdomain list, points a CNAME
// at parent, and re-triggers the parent's SSL renewal (the SAN mismatch
// against the now-larger subdomain set causes it to reissue).
func (m *Manager) foldSubdomain(ctx context.Context, parent, label, full string) (model.Domain, error) {
	var folded model.Domain
	m.store.Domains().Mutate(parent, func(dom *model.Domain) bool {
		for _, s := range dom.Subdomain {
			if s == label {
				folded = *dom
				return false
			}
		}
		dom.Subdomain = append(dom.Subdomain, label)
		folded = *dom
		return true
	})
	folded.FQDN = parent

	if _, err := m.dns.Record(parent, model.Record{
		Type:   model.RRTypeCNAME,
		Name:   label,
		Value:  parent,
		TTL:    m.cfg.DefaultTTL,
		Unique: true,
	}); err != nil {
		return model.Domain{}, fmt.Errorf("cname for %q: %w", full, err)
	}

	m.bus.Publish(events.Event{Type: events.EventDomainChanged, Subject: full, Message: "folded under " + parent, Timestamp: m.clk.Now()})
	m.ssl.RequestRenewal(ctx, parent)
	m.proxy.Trigger("domain_added:" + full)
	return folded, nil
}

// createDomain mints a new zone and the standard record set for a
// top-level (non-folded) domain.
func (m *Manager) createDomain(ctx context.Context, d, appID string) (model.Domain, error) {
	m.dns.EnsureZone(d, m.cfg.PrimaryNS, m.cfg.Hostmaster)

	pub4, pub6 := m.dns.PublicIPs()
	spf := fmt.Sprintf("v=spf1 a mx ip4:%s ip6:%s ~all", pub4, pub6)

	records := []model.Record{
		{Type: model.RRTypeA, Name: "@", TTL: m.cfg.DefaultTTL, Unique: true},    // value left empty: resolved dynamically
		{Type: model.RRTypeAAAA, Name: "@", TTL: m.cfg.DefaultTTL, Unique: true}, // value left empty: resolved dynamically
		{Type: model.RRTypeCNAME, Name: "www", Value: d, TTL: m.cfg.DefaultTTL, Unique: true},
		{Type: model.RRTypeMX, Name: "@", Value: "mail." + d, Priority: 10, TTL: m.cfg.DefaultTTL, Unique: true},
		{Type: model.RRTypeTXT, Name: "_dmarc", Value: "v=DMARC1; p=none", TTL: m.cfg.DefaultTTL, Unique: true},
		{Type: model.RRTypeTXT, Name: "@", Value: spf, TTL: m.cfg.DefaultTTL, Unique: true},
	}
	for _, rec := range records {
		if _, err := m.dns.Record(d, rec); err != nil {
			return model.Domain{}, fmt.Errorf("record %s/%s for %q: %w", rec.Type, rec.Name, d, err)
		}
	}

	dom := model.Domain{FQDN: d, AppID: appID, Created: m.clk.Now()}
	m.store.Domains().Put(d, dom)

	m.bus.Publish(events.Event{Type: events.EventDomainChanged, Subject: d, Message: "created", Timestamp: m.clk.Now()})
	m.ssl.RequestRenewal(ctx, d)
	m.proxy.Trigger("domain_added:" + d)
	return dom, nil
}

// Delete removes domain. A top-level domain deletes its standard record
// set, the CNAME of every subdomain folded into it, and the Domain entry;
// a folded subdomain only removes its label and CNAME from the parent,
// then re-renews the parent's certificate so its SAN set shrinks. Proxy
// Sync is always triggered last.
func (m *Manager) Delete(ctx context.Context, domain string) error {
	d := normalize(domain)

	if dom, ok := m.store.Domains().Get(d); ok {
		for _, label := range dom.Subdomain {
			m.dns.Delete(d, model.RRTypeCNAME, label, "")
		}
		m.dns.Delete(d, model.RRTypeA, "@", "")
		m.dns.Delete(d, model.RRTypeAAAA, "@", "")
		m.dns.Delete(d, model.RRTypeCNAME, "www", "")
		m.dns.Delete(d, model.RRTypeMX, "@", "")
		m.dns.Delete(d, model.RRTypeTXT, "_dmarc", "")
		m.dns.Delete(d, model.RRTypeTXT, "@", "")
		m.store.Domains().Delete(d)
		m.bus.Publish(events.Event{Type: events.EventDomainChanged, Subject: d, Message: "deleted", Timestamp: m.clk.Now()})
		m.proxy.Trigger("domain_deleted:" + d)
		return nil
	}

	for _, existing := range m.store.Domains().List() {
		label, ok := parentOf(d, existing.FQDN)
		if !ok {
			continue
		}
		parent := existing.FQDN
		var labelRemoved bool
		m.store.Domains().Mutate(parent, func(dom *model.Domain) bool {
			for i, s := range dom.Subdomain {
				if s == label {
					dom.Subdomain = append(dom.Subdomain[:i], dom.Subdomain[i+1:]...)
					labelRemoved = true
					return true
				}
			}
			return false
		})
		if !labelRemoved {
			continue
		}
		m.dns.Delete(parent, model.RRTypeCNAME, label, "")
		m.bus.Publish(events.Event{Type: events.EventDomainChanged, Subject: d, Message: "unfolded from " + parent, Timestamp: m.clk.Now()})
		m.ssl.RequestRenewal(ctx, parent)
		m.proxy.Trigger("domain_deleted:" + d)
		return nil
	}

	return fmt.Errorf("domain %q not found", d)
}

// DeleteByApp cascades domain deletion when appName's App is deleted:
// every top-level domain owned by appName is fully removed, including any
// subdomains folded into it.
func (m *Manager) DeleteByApp(ctx context.Context, appName string) error {
	var firstErr error
	for _, dom := range m.store.Domains().ByApp(appName) {
		if err := m.Delete(ctx, dom.FQDN); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
