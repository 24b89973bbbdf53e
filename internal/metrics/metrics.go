// Package metrics exposes Prometheus counters and gauges for every
// component of the control plane, scraped via the textfile collector
// or an embedded HTTP handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AppsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "odac_apps_total",
		Help: "Total number of declared apps.",
	})
	AppsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "odac_apps_by_status",
		Help: "Number of apps currently in each lifecycle status.",
	}, []string{"status"})
	WatchdogTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "odac_watchdog_ticks_total",
		Help: "Total number of watchdog reconciliation ticks run.",
	})
	WatchdogRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "odac_watchdog_restarts_total",
		Help: "Total number of apps re-run by the watchdog, by reason.",
	}, []string{"reason"})
	RedeploysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "odac_redeploys_total",
		Help: "Total number of git redeploys by outcome.",
	}, []string{"outcome"})
	RedeployDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "odac_redeploy_duration_seconds",
		Help:    "Duration of git redeploy pipelines.",
		Buckets: prometheus.DefBuckets,
	})
	DNSQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "odac_dns_queries_total",
		Help: "Total DNS queries answered, by qtype and rcode.",
	}, []string{"qtype", "rcode"})
	DNSRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "odac_dns_rate_limited_total",
		Help: "Total DNS queries dropped by the rate limiter.",
	})
	SSLRenewalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "odac_ssl_renewals_total",
		Help: "Total ACME renewal attempts by outcome.",
	}, []string{"outcome"})
	SSLCertExpirySeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "odac_ssl_cert_expiry_seconds",
		Help: "Seconds until certificate expiry, by domain.",
	}, []string{"domain"})
	ProxySyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "odac_proxy_syncs_total",
		Help: "Total proxy-sync pushes by outcome.",
	}, []string{"outcome"})
	ConfigFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "odac_config_flushes_total",
		Help: "Total config store flushes by outcome.",
	}, []string{"outcome"})
)
