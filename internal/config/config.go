// Package config holds the control plane's process-level configuration,
// loaded once from the environment at boot. It is distinct from
// internal/configstore, which holds the declarative state the Control API
// mutates at runtime (apps, domains, DNS records, ...); this package only
// covers paths, host connection details, and a handful of operator-tunable
// knobs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config holds all control-plane configuration sourced from ODAC_*
// environment variables. Mutable fields are protected by an RWMutex and
// must be accessed via getter/setter methods, since the orchestrator's
// watchdog goroutine reads them while the Control API may write them.
type Config struct {
	// Filesystem layout, all rooted under DataDir unless an override is set.
	DataDir    string // "~/.odac"
	AppsPath   string // ODAC_APPS_PATH override, default DataDir/apps
	WebPath    string // ODAC_WEB_PATH override, default DataDir/web
	SocketPath string // ODAC_SOCKET_PATH override, default DataDir/run/api.sock

	// Docker connection.
	DockerSock string

	// Logging.
	LogJSON bool
	Debug   bool

	// Instance identity, for the self-update handoff (§6 env vars).
	InstanceID         string
	PreviousInstanceID string
	UpdateMode         bool

	// DNS Authority.
	PrimaryNS        string
	Hostmaster       string
	DefaultTTL       int
	RateLimitEnabled bool
	RateLimitMax     int
	RateLimitWindow  time.Duration

	// SSL Engine.
	ACMEEmail    string
	ACMEDirURL   string
	SelfSignedCN string

	// Proxy Sync / data-plane supervisor.
	ProxyBinaryPath string
	ProxyTCPAddr    string
	ProxyDefaultPort int

	// Notifications.
	WebhookURL     string
	WebhookHeaders string
	MQTTBroker     string
	MQTTTopic      string
	MQTTClientID   string
	MQTTUsername   string
	MQTTPassword   string

	// Metrics.
	MetricsEnabled bool
	MetricsTextfile string

	mu               sync.RWMutex
	watchdogInterval time.Duration
}

// Load reads configuration from the environment, applying the same
// defaults a fresh single-host install would need.
func Load() *Config {
	home, _ := os.UserHomeDir()
	dataDir := envStr("ODAC_DATA_DIR", filepath.Join(home, ".odac"))

	instanceID := envStr("ODAC_INSTANCE_ID", "")
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	return &Config{
		DataDir:            dataDir,
		AppsPath:           envStr("ODAC_APPS_PATH", filepath.Join(dataDir, "apps")),
		WebPath:            envStr("ODAC_WEB_PATH", filepath.Join(dataDir, "web")),
		SocketPath:         envStr("ODAC_SOCKET_PATH", filepath.Join(dataDir, "run", "api.sock")),
		DockerSock:         envStr("ODAC_DOCKER_SOCK", "/var/run/docker.sock"),
		LogJSON:            envBool("ODAC_LOG_JSON", true),
		Debug:              envBool("ODAC_DEBUG", false),
		InstanceID:         instanceID,
		PreviousInstanceID: envStr("ODAC_PREVIOUS_INSTANCE_ID", ""),
		UpdateMode:         envBool("ODAC_UPDATE_MODE", false),
		PrimaryNS:          envStr("ODAC_PRIMARY_NS", "ns1.odac.run"),
		Hostmaster:         envStr("ODAC_HOSTMASTER", "hostmaster.odac.run"),
		DefaultTTL:         envInt("ODAC_DEFAULT_TTL", 300),
		RateLimitEnabled:   envBool("ODAC_DNS_RATE_LIMIT", true),
		RateLimitMax:       envInt("ODAC_DNS_RATE_LIMIT_MAX", 50),
		RateLimitWindow:    envDuration("ODAC_DNS_RATE_LIMIT_WINDOW", time.Second),
		ACMEEmail:          envStr("ODAC_ACME_EMAIL", ""),
		ACMEDirURL:         envStr("ODAC_ACME_DIR_URL", "https://acme-v02.api.letsencrypt.org/directory"),
		SelfSignedCN:       envStr("ODAC_SELF_SIGNED_CN", "odac.local"),
		ProxyBinaryPath:    envStr("ODAC_PROXY_BINARY", filepath.Join(dataDir, "bin", "odac-proxy")),
		ProxyTCPAddr:       envStr("ODAC_PROXY_TCP_ADDR", "127.0.0.1:1454"),
		ProxyDefaultPort:   envInt("ODAC_PROXY_DEFAULT_PORT", 3000),
		WebhookURL:         envStr("ODAC_WEBHOOK_URL", ""),
		WebhookHeaders:     envStr("ODAC_WEBHOOK_HEADERS", ""),
		MQTTBroker:         envStr("ODAC_MQTT_BROKER", ""),
		MQTTTopic:          envStr("ODAC_MQTT_TOPIC", "odac/events"),
		MQTTClientID:       envStr("ODAC_MQTT_CLIENT_ID", "odac"),
		MQTTUsername:       envStr("ODAC_MQTT_USERNAME", ""),
		MQTTPassword:       envStr("ODAC_MQTT_PASSWORD", ""),
		MetricsEnabled:     envBool("ODAC_METRICS", false),
		MetricsTextfile:    envStr("ODAC_METRICS_TEXTFILE", ""),
		watchdogInterval:   envDuration("ODAC_WATCHDOG_INTERVAL", time.Second),
	}
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("ODAC_DATA_DIR must not be empty"))
	}
	if c.PrimaryNS == "" {
		errs = append(errs, fmt.Errorf("ODAC_PRIMARY_NS must not be empty"))
	}
	if c.DefaultTTL <= 0 {
		errs = append(errs, fmt.Errorf("ODAC_DEFAULT_TTL must be > 0, got %d", c.DefaultTTL))
	}
	if c.WatchdogInterval() <= 0 {
		errs = append(errs, fmt.Errorf("ODAC_WATCHDOG_INTERVAL must be > 0, got %s", c.WatchdogInterval()))
	}
	if c.InstanceID == "" {
		errs = append(errs, fmt.Errorf("instance ID must not be empty"))
	}
	return errors.Join(errs...)
}

// WatchdogInterval returns the current watchdog tick period (thread-safe).
func (c *Config) WatchdogInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watchdogInterval
}

// SetWatchdogInterval updates the watchdog tick period at runtime.
func (c *Config) SetWatchdogInterval(d time.Duration) {
	c.mu.Lock()
	c.watchdogInterval = d
	c.mu.Unlock()
}

// RunDir returns the directory holding the control/data-plane sockets and
// PID files (~/.odac/run).
func (c *Config) RunDir() string {
	return filepath.Join(c.DataDir, "run")
}

// CertDir returns the directory holding per-domain TLS material
// (~/.odac/cert/ssl).
func (c *Config) CertDir() string {
	return filepath.Join(c.DataDir, "cert", "ssl")
}

// LogDir returns the directory holding proxy and per-app logs (~/.odac/logs).
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigDir returns the directory holding the Config Store's modular JSON
// files (~/.odac/config).
func (c *Config) ConfigDir() string {
	return filepath.Join(c.DataDir, "config")
}

// OpsDBPath returns the bbolt database path for operational (non-declarative)
// state (~/.odac/ops.db).
func (c *Config) OpsDBPath() string {
	return filepath.Join(c.DataDir, "ops.db")
}

// ProxySocketPath returns the data-plane socket path for this instance,
// scoped by InstanceID so two instances can coexist during a self-update
// handoff (~/.odac/run/proxy-<instance>.sock).
func (c *Config) ProxySocketPath() string {
	return filepath.Join(c.RunDir(), "proxy-"+c.InstanceID+".sock")
}

// ProxyPIDPath returns the data-plane PID file path for this instance
// (~/.odac/run/proxy-<instance>.pid).
func (c *Config) ProxyPIDPath() string {
	return filepath.Join(c.RunDir(), "proxy-"+c.InstanceID+".pid")
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
