// Package orchestrator is the Service Orchestrator: it owns construction
// and wiring of every other component, drives the 1Hz watchdog tick, and
// handles startup/shutdown ordering. Nothing outside this package reaches
// into a package-level global to find another component — every dependency
// is passed in explicitly at construction, the way the teacher's
// cmd/sentinel/main.go wires internal/web.Dependencies by hand, except that
// wiring lives in its own package here rather than sprawling across main.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/odac-run/odac/internal/apps"
	"github.com/odac-run/odac/internal/clock"
	"github.com/odac-run/odac/internal/config"
	"github.com/odac-run/odac/internal/configstore"
	"github.com/odac-run/odac/internal/controlapi"
	"github.com/odac-run/odac/internal/deps"
	"github.com/odac-run/odac/internal/dnsauth"
	"github.com/odac-run/odac/internal/docker"
	"github.com/odac-run/odac/internal/domains"
	"github.com/odac-run/odac/internal/events"
	"github.com/odac-run/odac/internal/hostctl"
	"github.com/odac-run/odac/internal/logging"
	"github.com/odac-run/odac/internal/mail"
	"github.com/odac-run/odac/internal/metrics"
	"github.com/odac-run/odac/internal/notify"
	"github.com/odac-run/odac/internal/proxysync"
	"github.com/odac-run/odac/internal/selfupdate"
	"github.com/odac-run/odac/internal/sslengine"
	"github.com/odac-run/odac/internal/store"
	"github.com/odac-run/odac/internal/webhook"
)

// updateHandoffGrace is how long a freshly spawned instance waits before
// claiming the DNS and data-plane listeners, giving the instance it is
// replacing time to release them first.
const updateHandoffGrace = 2 * time.Second

// Orchestrator constructs, wires, and runs every control-plane component.
type Orchestrator struct {
	cfg *config.Config
	log *logging.Logger
	clk clock.Clock

	store *configstore.Store
	ops   *store.Store
	rt    docker.API
	bus   *events.Bus

	dns     *dnsauth.Server
	ssl     *sslengine.Engine
	proxy   *proxysync.Syncer
	plane   *proxysync.DataPlane
	apps    *apps.Supervisor
	domains *domains.Manager
	mail    *mail.Manager
	webhook *webhook.Handler
	api     *controlapi.Server

	notifier *notify.Multi
	updater  *selfupdate.Updater

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New constructs every component in dependency order and wires them
// together. It performs no network I/O; call Run to start.
func New(cfg *config.Config) (*Orchestrator, error) {
	log := logging.New(cfg.LogJSON)
	clk := clock.Real{}

	cs, err := configstore.Open(cfg.ConfigDir(), log, clk)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open config store: %w", err)
	}
	ops, err := store.Open(cfg.OpsDBPath())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open ops store: %w", err)
	}
	rt, err := docker.NewClient(cfg.DockerSock, nil)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: docker client: %w", err)
	}

	bus := events.New()
	host := hostctl.NewHost()

	dnsSrv := dnsauth.New(cs, log, clk, host, dnsauth.Config{
		RateLimitEnabled: cfg.RateLimitEnabled,
		RateLimitMax:     cfg.RateLimitMax,
		RateLimitWindow:  cfg.RateLimitWindow,
		PublicNameserver: cfg.PrimaryNS,
	})

	sslEngine := sslengine.New(sslengine.Config{
		Email:    cfg.ACMEEmail,
		CADirURL: cfg.ACMEDirURL,
		CertDir:  cfg.CertDir(),
	}, cs, ops, dnsSrv, bus, log, clk)

	proxySyncer := proxysync.New(proxysync.Config{
		SocketPath:  cfg.ProxySocketPath(),
		TCPAddr:     cfg.ProxyTCPAddr,
		DefaultPort: cfg.ProxyDefaultPort,
	}, cs, rt, log, clk)
	dataPlane := proxysync.NewDataPlane(cfg.ProxyBinaryPath, cfg.ProxyPIDPath(), cfg.ProxySocketPath(), nil, log)

	appsSupervisor := apps.New(apps.Config{
		AppsDir:     cfg.AppsPath,
		LogDir:      cfg.LogDir(),
		ImagePrefix: "odac-app-",
		DefaultPort: cfg.ProxyDefaultPort,
	}, cs, ops, rt, proxySyncer, bus, log, clk)

	domainsMgr := domains.New(domains.Config{
		PrimaryNS:  cfg.PrimaryNS,
		Hostmaster: cfg.Hostmaster,
		DefaultTTL: cfg.DefaultTTL,
	}, cs, dnsSrv, sslEngine, proxySyncer, bus, log, clk)

	mailSender := mail.NewSendmailSender()
	mailMgr := mail.New(cs, mailSender, bus, log, clk)

	webhookHandler := webhook.New(cs, appsSupervisor, log)

	notifier := buildNotifier(cfg, log)

	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	updater := selfupdate.New(exe, cfg.InstanceID, log)

	o := &Orchestrator{
		cfg: cfg, log: log, clk: clk,
		store: cs, ops: ops, rt: rt, bus: bus,
		dns: dnsSrv, ssl: sslEngine, proxy: proxySyncer, plane: dataPlane,
		apps: appsSupervisor, domains: domainsMgr, mail: mailMgr,
		webhook: webhookHandler,
		notifier: notifier, updater: updater,
	}

	o.api = controlapi.New(controlapi.Config{SocketPath: cfg.SocketPath}, controlapi.Deps{
		Store:   cs,
		Apps:    appsSupervisor,
		Domains: domainsMgr,
		SSL:     sslEngine,
		Mail:    mailMgr,
		Web:     cs.Services(),
		Stop:    o,
		Update:  updater,
		Webhook: webhookHandler,
	}, log)

	return o, nil
}

// buildNotifier assembles the lifecycle-event fan-out chain: a structured
// log notifier always runs, plus a webhook and/or MQTT notifier when
// configured, mirroring the teacher's env-var-driven notifier bootstrap in
// cmd/sentinel/main.go.
func buildNotifier(cfg *config.Config, log *logging.Logger) *notify.Multi {
	notifiers := []notify.Notifier{notify.NewLogNotifier(log)}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.WebhookURL, parseHeaders(cfg.WebhookHeaders)))
	}
	if cfg.MQTTBroker != "" {
		notifiers = append(notifiers, notify.NewMQTT(cfg.MQTTBroker, cfg.MQTTTopic, cfg.MQTTClientID, cfg.MQTTUsername, cfg.MQTTPassword, 0))
	}
	return notify.NewMulti(log, notifiers...)
}

func parseHeaders(s string) map[string]string {
	if s == "" {
		return nil
	}
	headers := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(kv) == 2 {
			headers[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	return headers
}

// Stop implements controlapi.Stopper: it cancels the context Run is
// blocked on, which drives an orderly reverse-order shutdown.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run starts every component in dependency order (App → DNS → Web → Mail →
// API → Hub → Container, per the boot sequence), then ticks the watchdog
// at cfg.WatchdogInterval until ctx is cancelled or Stop is called.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	defer cancel()

	if o.cfg.PreviousInstanceID != "" {
		o.log.Info("update handoff detected, deferring data-plane start", "previous_instance_id", o.cfg.PreviousInstanceID)
		select {
		case <-o.clk.After(updateHandoffGrace):
		case <-ctx.Done():
			return nil
		}
	}

	if err := o.ssl.Bootstrap(ctx); err != nil {
		return fmt.Errorf("orchestrator: ssl bootstrap: %w", err)
	}
	if err := o.dns.Start(ctx); err != nil {
		return fmt.Errorf("orchestrator: dns start: %w", err)
	}
	if err := o.plane.Start(ctx); err != nil {
		return fmt.Errorf("orchestrator: data-plane start: %w", err)
	}
	if err := o.ssl.StartSweep(ctx); err != nil {
		return fmt.Errorf("orchestrator: ssl sweep: %w", err)
	}
	if err := o.api.Start(ctx); err != nil {
		return fmt.Errorf("orchestrator: control api start: %w", err)
	}

	go o.cascadeAppDeletes(ctx)
	go o.relayNotifications(ctx)
	go o.relaySSLRenewals(ctx)

	o.proxy.Trigger("startup")
	o.log.Info("orchestrator started", "instance_id", o.cfg.InstanceID)

	wake := o.clk.After(o.cfg.WatchdogInterval())
	for {
		select {
		case <-wake:
			o.tick(ctx)
			wake = o.clk.After(o.cfg.WatchdogInterval())
		case <-ctx.Done():
			o.shutdown()
			return nil
		}
	}
}

// tick runs one watchdog reconciliation pass: App.check, then Mail.check.
// SSL renewal runs on its own cron schedule (StartSweep) rather than this
// tick, and the Web/Hub components (Services bookkeeping, the data-plane
// supervisor) have no per-tick reconciliation of their own — Proxy Sync is
// driven by Trigger calls from state changes, not by time.
func (o *Orchestrator) tick(ctx context.Context) {
	metrics.WatchdogTicks.Inc()
	o.apps.Check(ctx)
	o.mail.Check(ctx)
	if o.cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(o.cfg.MetricsTextfile); err != nil {
			o.log.Warn("failed to write metrics textfile", "path", o.cfg.MetricsTextfile, "error", err.Error())
		}
	}
}

// cascadeAppDeletes subscribes to the event bus and deletes every domain
// attached to an app once that app is deleted, replacing a direct
// apps → domains call with an observer-bus subscription set up here at
// construction time.
func (o *Orchestrator) cascadeAppDeletes(ctx context.Context) {
	ch, unsubscribe := o.bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Type == events.EventAppStatusChanged && evt.Message == "deleted" {
				if err := o.domains.DeleteByApp(ctx, evt.Subject); err != nil {
					o.log.Warn("cascade domain delete failed", "app", evt.Subject, "error", err.Error())
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// relaySSLRenewals subscribes to the event bus and, per §4.4's "notify
// Proxy Sync and Mail", pushes a fresh config snapshot to the data plane
// and informs the Mail component's observer hook whenever a certificate is
// renewed — neither proxysync.Syncer nor mail.Manager subscribe to the bus
// themselves, so the orchestrator bridges this the same way it already
// bridges cascading app deletes.
func (o *Orchestrator) relaySSLRenewals(ctx context.Context) {
	ch, unsubscribe := o.bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Type == events.EventSSLRenewed {
				o.proxy.Trigger("ssl_renewed:" + evt.Subject)
				o.mail.NotifyCertRenewed(evt.Subject)
			}
		case <-ctx.Done():
			return
		}
	}
}

// relayNotifications subscribes to the event bus and forwards every event
// to the notifier chain, translating the internal event vocabulary into
// notify's.
func (o *Orchestrator) relayNotifications(ctx context.Context) {
	ch, unsubscribe := o.bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			o.notifier.Notify(ctx, translateEvent(evt))
		case <-ctx.Done():
			return
		}
	}
}

// translateEvent maps an internal events.Event onto notify's event
// vocabulary, since the two packages evolved independently (the bus
// predates the notifier chain, mirroring the teacher's own
// internal/events vs internal/notify split).
func translateEvent(evt events.Event) notify.Event {
	out := notify.Event{Subject: evt.Subject, Message: evt.Message, Timestamp: evt.Timestamp}
	switch evt.Type {
	case events.EventAppStatusChanged:
		switch evt.Message {
		case "running":
			out.Type = notify.EventAppStarted
		case "stopped", "deleted":
			out.Type = notify.EventAppStopped
		case "errored":
			out.Type = notify.EventAppErrored
		default:
			out.Type = notify.EventWatchdogAction
		}
	case events.EventAppRedeployed:
		out.Type = notify.EventAppRedeployed
	case events.EventDomainChanged:
		out.Type = notify.EventDomainChanged
	case events.EventSSLRenewed:
		out.Type = notify.EventSSLRenewed
	case events.EventSSLFailed:
		out.Type = notify.EventSSLFailed
		out.Error = evt.Message
	case events.EventProxySynced:
		out.Type = notify.EventProxySynced
	default:
		out.Type = notify.EventWatchdogAction
	}
	return out
}

// shutdown stops data-plane components in reverse of their start order,
// then releases the declarative and operational stores.
func (o *Orchestrator) shutdown() {
	o.log.Info("orchestrator shutting down", "instance_id", o.cfg.InstanceID)
	o.api.Stop()

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.dns.Shutdown(shutCtx); err != nil {
		o.log.Warn("dns shutdown error", "error", err.Error())
	}
	if err := o.plane.Stop(); err != nil {
		o.log.Warn("data-plane stop error", "error", err.Error())
	}
	o.ssl.Stop()

	if err := o.store.Close(); err != nil {
		o.log.Warn("config store close error", "error", err.Error())
	}
	if err := o.ops.Close(); err != nil {
		o.log.Warn("ops store close error", "error", err.Error())
	}
	if err := o.rt.Close(); err != nil {
		o.log.Warn("docker client close error", "error", err.Error())
	}
}
