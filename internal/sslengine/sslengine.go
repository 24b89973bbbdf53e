// Package sslengine issues and renews per-domain TLS certificates via ACME
// DNS-01 against the DNS Authority's own zone data, falls back to a
// self-signed system certificate on boot, and tracks a per-domain
// fresh/requested/issued/saved state machine with exponential backoff on
// failure.
package sslengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/odac-run/odac/internal/clock"
	"github.com/odac-run/odac/internal/configstore"
	"github.com/odac-run/odac/internal/events"
	"github.com/odac-run/odac/internal/logging"
	"github.com/odac-run/odac/internal/metrics"
	"github.com/odac-run/odac/internal/model"
	"github.com/odac-run/odac/internal/store"
)

// renewalWindow is how far before expiry a SAN sweep triggers a renewal.
const renewalWindow = 30 * 24 * time.Hour

// sweepSchedule runs the SAN-mismatch/expiry sweep every 5 minutes, in line
// with the "no faster than every 5 min per domain" requirement.
const sweepSchedule = "*/5 * * * *"

// backoffSchedule is indexed by consecutive-failure count (1-based); the
// last entry is reused once failures exceed its length.
var backoffSchedule = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
}

// Config holds the engine's ACME account and on-disk cert storage settings.
type Config struct {
	Email     string
	CADirURL  string
	CertDir   string // "~/.odac/cert/ssl" in production
}

// Engine is the SSL Engine: ACME client, self-signed fallback generator,
// and per-domain renewal scheduler.
type Engine struct {
	opts Config

	cfg *configstore.Store
	ops *store.Store
	dns DNSAuthority
	bus *events.Bus
	log *logging.Logger
	clk clock.Clock

	clientMu sync.Mutex
	client   *lego.Client
	user     *acmeUser

	sf singleflight.Group

	ownerMu sync.Mutex
	owner   map[string]bool
	queued  map[string]bool

	sweep *cron.Cron
}

// New creates an Engine. Bootstrap and StartSweep must be called to make it
// operational.
func New(opts Config, cs *configstore.Store, ops *store.Store, dns DNSAuthority, bus *events.Bus, log *logging.Logger, clk clock.Clock) *Engine {
	if opts.CADirURL == "" {
		opts.CADirURL = lego.LEDirectoryProduction
	}
	return &Engine{
		opts:   opts,
		cfg:    cs,
		ops:    ops,
		dns:    dns,
		bus:    bus,
		log:    log,
		clk:    clk,
		owner:  make(map[string]bool),
		queued: make(map[string]bool),
	}
}

// Bootstrap ensures a valid self-signed system certificate exists, used as
// the default SNI certificate until real per-domain certs are issued.
func (e *Engine) Bootstrap(ctx context.Context) error {
	existing := e.cfg.SSL().Get()
	if !selfSignedExpired(existing, e.clk.Now()) {
		return nil
	}
	material, err := generateSelfSigned(e.clk.Now())
	if err != nil {
		return fmt.Errorf("generate self-signed fallback: %w", err)
	}
	e.cfg.SSL().Put(material)
	e.log.Info("generated self-signed fallback certificate", "expiry", material.Expiry)
	return nil
}

// StartSweep begins the periodic SAN/expiry sweep over every managed
// domain, running once immediately and then on sweepSchedule.
func (e *Engine) StartSweep(ctx context.Context) error {
	e.sweepOnce(ctx)

	c := cron.New()
	if _, err := c.AddFunc(sweepSchedule, func() { e.sweepOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule ssl sweep: %w", err)
	}
	c.Start()
	e.sweep = c
	return nil
}

// Stop halts the sweep scheduler.
func (e *Engine) Stop() {
	if e.sweep != nil {
		<-e.sweep.Stop().Done()
	}
}

func (e *Engine) sweepOnce(ctx context.Context) {
	now := e.clk.Now()
	for _, d := range e.cfg.Domains().List() {
		state, _, err := e.ops.GetSSLState(d.FQDN)
		if err == nil && now.Before(state.NextAttempt) {
			continue
		}
		expected := expectedSANs(d.FQDN, d.Subdomain)
		var certPEM []byte
		if d.Cert.SSL != nil {
			certPEM = []byte(d.Cert.SSL.Cert)
		}
		if needs, reason := needsRenewal(certPEM, expected, now, renewalWindow); needs {
			e.log.Info("ssl sweep triggering renewal", "domain", d.FQDN, "reason", reason)
			e.RequestRenewal(ctx, d.FQDN)
		}
	}
}

// Renew explicitly and immediately requests a certificate for domain,
// bypassing any backoff interval.
func (e *Engine) Renew(ctx context.Context, domain string) {
	e.ops.SaveSSLState(store.DomainSSLState{Domain: domain, Phase: "requested"})
	e.RequestRenewal(ctx, domain)
}

// RequestRenewal ensures at most one ACME flow runs per domain at a time:
// a call that arrives while one is already running for the same domain is
// queued and re-triggers once the in-flight run completes.
func (e *Engine) RequestRenewal(ctx context.Context, domain string) {
	e.ownerMu.Lock()
	if e.owner[domain] {
		e.queued[domain] = true
		e.ownerMu.Unlock()
		return
	}
	e.owner[domain] = true
	e.ownerMu.Unlock()

	go e.ownerLoop(ctx, domain)
}

func (e *Engine) ownerLoop(ctx context.Context, domain string) {
	for {
		e.obtainOnce(ctx, domain)

		e.ownerMu.Lock()
		if e.queued[domain] {
			delete(e.queued, domain)
			e.ownerMu.Unlock()
			continue
		}
		delete(e.owner, domain)
		e.ownerMu.Unlock()
		return
	}
}

func (e *Engine) obtainOnce(ctx context.Context, domain string) {
	d, ok := e.cfg.Domains().Get(domain)
	if !ok {
		e.log.Warn("ssl renewal requested for unknown domain", "domain", domain)
		return
	}

	if err := e.ensureClient(); err != nil {
		e.recordFailure(domain, err)
		return
	}

	expected := expectedSANs(d.FQDN, d.Subdomain)
	req := certificate.ObtainRequest{Domains: expected, Bundle: true}

	resultAny, err, _ := e.sf.Do(domain, func() (any, error) {
		return e.client.Certificate.Obtain(req)
	})
	if err != nil {
		e.recordFailure(domain, err)
		return
	}
	resource := resultAny.(*certificate.Resource)

	if err := e.writeCertFiles(domain, resource.Certificate, resource.PrivateKey); err != nil {
		e.recordFailure(domain, err)
		return
	}

	now := e.clk.Now()
	material := model.SSLMaterial{
		Key:    string(resource.PrivateKey),
		Cert:   string(resource.Certificate),
		Expiry: now.Add(90 * 24 * time.Hour),
	}
	e.cfg.Domains().Mutate(domain, func(dom *model.Domain) bool {
		dom.Cert.SSL = &material
		return true
	})
	e.ops.SaveSSLState(store.DomainSSLState{Domain: domain, Phase: "saved", Failures: 0})

	metrics.SSLRenewalsTotal.WithLabelValues("success").Inc()
	metrics.SSLCertExpirySeconds.WithLabelValues(domain).Set(material.Expiry.Sub(now).Seconds())
	e.bus.Publish(events.Event{Type: events.EventSSLRenewed, Subject: domain, Timestamp: now})
	e.log.Info("issued certificate", "domain", domain, "expiry", material.Expiry)
}

func (e *Engine) recordFailure(domain string, cause error) {
	state, _, _ := e.ops.GetSSLState(domain)
	state.Domain = domain
	state.Phase = "requested"
	state.Failures++
	state.LastError = cause.Error()
	state.NextAttempt = e.clk.Now().Add(backoffFor(state.Failures))
	_ = e.ops.SaveSSLState(state)

	metrics.SSLRenewalsTotal.WithLabelValues("failure").Inc()
	e.bus.Publish(events.Event{Type: events.EventSSLFailed, Subject: domain, Message: cause.Error(), Timestamp: e.clk.Now()})
	e.log.Error("certificate renewal failed", "domain", domain, "error", cause, "nextAttempt", state.NextAttempt)
}

// backoffFor returns the delay before the next retry after n consecutive
// failures, capped at the schedule's last entry.
func backoffFor(n int) time.Duration {
	if n <= 0 {
		return backoffSchedule[0]
	}
	idx := n - 1
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	return backoffSchedule[idx]
}

func (e *Engine) ensureClient() error {
	e.clientMu.Lock()
	defer e.clientMu.Unlock()
	if e.client != nil {
		return nil
	}

	user, err := loadOrCreateAccount(e.ops, e.opts.Email)
	if err != nil {
		return fmt.Errorf("acme account: %w", err)
	}

	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = e.opts.CADirURL
	legoCfg.Certificate.KeyType = certcrypto.EC256

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return fmt.Errorf("new acme client: %w", err)
	}
	_ = client.Challenge.Remove(challenge.HTTP01)
	_ = client.Challenge.Remove(challenge.TLSALPN01)
	if err := client.Challenge.SetDNS01Provider(newDNSProvider(e.dns)); err != nil {
		return fmt.Errorf("set dns01 provider: %w", err)
	}

	if user.registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return fmt.Errorf("acme registration: %w", err)
		}
		user.registration = reg
		if err := saveAccount(e.ops, user); err != nil {
			e.log.Warn("failed to persist acme registration", "error", err)
		}
	}

	e.client = client
	e.user = user
	return nil
}

func (e *Engine) writeCertFiles(domain string, certPEM, keyPEM []byte) error {
	if e.opts.CertDir == "" {
		return nil
	}
	if err := os.MkdirAll(e.opts.CertDir, 0700); err != nil {
		return fmt.Errorf("create cert dir: %w", err)
	}
	if err := atomicWrite(filepath.Join(e.opts.CertDir, domain+".crt"), certPEM); err != nil {
		return err
	}
	return atomicWrite(filepath.Join(e.opts.CertDir, domain+".key"), keyPEM)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
