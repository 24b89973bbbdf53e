// Package model defines the domain types persisted by the Config Store and
// shared across every control-plane component: apps, domains, DNS zones,
// certificates, firewall policy, and API auth.
package model

import "time"

// AppType distinguishes how an App is launched.
type AppType string

const (
	AppTypeScript    AppType = "script"
	AppTypeContainer AppType = "container"
	AppTypeGit       AppType = "git"
)

// AppStatus is a position in the App lifecycle state machine.
type AppStatus string

const (
	StatusInstalling AppStatus = "installing"
	StatusStarting   AppStatus = "starting"
	StatusRunning    AppStatus = "running"
	StatusStopped    AppStatus = "stopped"
	StatusErrored    AppStatus = "errored"
	StatusUpdating   AppStatus = "updating"
	StatusBuilding   AppStatus = "building"
)

// PortMapping binds a container port to an optional host port. Host is left
// zero when only the container-internal port has been declared.
type PortMapping struct {
	Host      int `json:"host,omitempty"`
	Container int `json:"container"`
}

// VolumeMapping binds a host path to a container path.
type VolumeMapping struct {
	Host      string `json:"host"`
	Container string `json:"container"`
}

// GitSource describes the repository a git-type App is built from.
type GitSource struct {
	Repo     string `json:"repo"`
	Provider string `json:"provider,omitempty"`
	Branch   string `json:"branch"`
}

// AppEnv holds manually-set and app-linked environment variables.
//
// Legacy records where env was persisted as a flat string map are read back
// as Manual and rewritten in this shape on the next flush.
type AppEnv struct {
	Manual map[string]string `json:"manual,omitempty"`
	Linked []string          `json:"linked,omitempty"`
}

// APICapabilities, when non-nil on an App, grants that app a derived
// capability token and a mounted control-API socket.
type APICapabilities struct {
	Enabled bool `json:"enabled"`
}

// App is a single managed application: a script, a recipe-driven container,
// or a git-deployed service built from source.
type App struct {
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Type      AppType         `json:"type"`
	Image     string          `json:"image,omitempty"`
	URL       string          `json:"url,omitempty"`
	Branch    string          `json:"branch,omitempty"`
	Git       *GitSource      `json:"git,omitempty"`
	File      string          `json:"file,omitempty"`
	Ports     []PortMapping   `json:"ports,omitempty"`
	Volumes   []VolumeMapping `json:"volumes,omitempty"`
	Env       AppEnv          `json:"env"`
	API       *APICapabilities `json:"api,omitempty"`
	Dev       bool            `json:"dev,omitempty"`
	Active    bool            `json:"active"`
	Status    AppStatus       `json:"status"`
	Created   time.Time       `json:"created"`
	Started   *time.Time      `json:"started,omitempty"`
	CommitSHA string          `json:"commitSha,omitempty"`

	// ContainerID and CachedIP are runtime-observed, not user-declared; they
	// are still persisted so Proxy Sync has a fallback address when the
	// runtime is unreachable.
	ContainerID string `json:"containerId,omitempty"`
	CachedIP    string `json:"cachedIp,omitempty"`
}

// SSLMaterial is a key/cert pair with its expiry, used both for per-domain
// certificates and the system self-signed fallback.
type SSLMaterial struct {
	Key    string    `json:"key"`
	Cert   string    `json:"cert"`
	Expiry time.Time `json:"expiry"`
}

// DomainCert wraps the SSL material attached to a Domain, if any has been
// issued yet.
type DomainCert struct {
	SSL *SSLMaterial `json:"ssl,omitempty"`
}

// Domain is a managed FQDN bound to an App. Subdomains of an owned parent
// are folded into Subdomain rather than stored as their own Domain.
type Domain struct {
	FQDN      string     `json:"-"` // map key in the owning module; not re-serialized per-record
	AppID     string     `json:"appId"` // app name
	Subdomain []string   `json:"subdomain,omitempty"`
	Created   time.Time  `json:"created"`
	Cert      DomainCert `json:"cert"`
}

// RRType is a DNS resource record type this authority answers for.
type RRType string

const (
	RRTypeA     RRType = "A"
	RRTypeAAAA  RRType = "AAAA"
	RRTypeCNAME RRType = "CNAME"
	RRTypeMX    RRType = "MX"
	RRTypeTXT   RRType = "TXT"
	RRTypeNS    RRType = "NS"
	RRTypeCAA   RRType = "CAA"
)

// Record is a single DNS resource record within a Zone. Value is left empty
// for dynamic A/AAAA records, which are resolved at answer time.
type Record struct {
	ID       string `json:"id"`
	Type     RRType `json:"type"`
	Name     string `json:"name"`
	Value    string `json:"value,omitempty"`
	Priority int    `json:"priority,omitempty"`
	TTL      int    `json:"ttl"`
	Unique   bool   `json:"unique,omitempty"`
}

// SOA is a zone's start-of-authority record.
type SOA struct {
	Primary string `json:"primary"`
	Email   string `json:"email"`
	Serial  string `json:"serial"`
	Refresh int    `json:"refresh"`
	Retry   int    `json:"retry"`
	Expire  int    `json:"expire"`
	Minimum int    `json:"minimum"`
	TTL     int    `json:"ttl"`
}

// Zone is an authoritative DNS zone keyed by its apex domain.
type Zone struct {
	Apex    string   `json:"-"`
	SOA     SOA      `json:"soa"`
	Records []Record `json:"records"`
}

// Server is the singleton host-level record: one per installation.
type Server struct {
	PID      int       `json:"pid"`
	Started  time.Time `json:"started"`
	Watchdog time.Time `json:"watchdog"`
	OS       string    `json:"os"`
	Arch     string    `json:"arch"`
}

// RateLimit configures the firewall's per-source request cap.
type RateLimit struct {
	Enabled  bool `json:"enabled"`
	WindowMs int  `json:"windowMs"`
	Max      int  `json:"max"`
}

// Firewall is the system-wide packet/connection policy.
type Firewall struct {
	Enabled   bool            `json:"enabled"`
	Blacklist map[string]bool `json:"blacklist,omitempty"`
	Whitelist map[string]bool `json:"whitelist,omitempty"`
	RateLimit RateLimit       `json:"rateLimit"`
}

// APIAuth holds the root key from which every capability token is derived.
type APIAuth struct {
	Auth string `json:"auth"` // 32-byte hex root key
}

// MailAccount is a managed mailbox on the (externally-supervised) mail
// server. PasswordHash is bcrypt, never the plaintext password.
type MailAccount struct {
	Address      string    `json:"address"` // user@domain
	PasswordHash string    `json:"passwordHash"`
	Created      time.Time `json:"created"`
}

// Service is a third-party managed container, shaped like App.container but
// not subject to the App lifecycle state machine (it is supervised, not
// deployed).
type Service struct {
	Name    string          `json:"name"`
	Image   string          `json:"image"`
	Ports   []PortMapping   `json:"ports,omitempty"`
	Volumes []VolumeMapping `json:"volumes,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Active  bool            `json:"active"`
}
