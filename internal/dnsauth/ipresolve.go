package dnsauth

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// externalIPServices are hard-coded public IP echo services consulted when
// the host's own interfaces don't surface a public address directly (the
// host sits behind NAT).
var externalIPServices = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
}

const ipProbeTimeout = 5 * time.Second

// publicIPs returns the host's public IPv4 and IPv6 addresses, combining
// non-internal local interface addresses with hard-coded external lookup
// services. Private addresses (RFC1918, CGNAT, link-local) are excluded.
func publicIPs(ctx context.Context) []net.IP {
	var out []net.IP
	seen := make(map[string]bool)

	add := func(ip net.IP) {
		if ip == nil || isPrivate(ip) {
			return
		}
		key := ip.String()
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, ip)
	}

	ifaces, err := net.InterfaceAddrs()
	if err == nil {
		for _, addr := range ifaces {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			add(ipNet.IP)
		}
	}

	for _, svc := range externalIPServices {
		if ip := probeExternalIP(ctx, svc); ip != nil {
			add(ip)
		}
	}

	return out
}

func probeExternalIP(ctx context.Context, url string) net.IP {
	ctx, cancel := context.WithTimeout(ctx, ipProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	return net.ParseIP(strings.TrimSpace(string(buf[:n])))
}

// isPrivate classifies an IP as non-routable: RFC1918, CGNAT (100.64.0.0/10),
// link-local, or loopback.
func isPrivate(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	privateBlocks := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"100.64.0.0/10", // CGNAT
		"fc00::/7",      // unique local IPv6
	}
	for _, cidr := range privateBlocks {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil && block.Contains(ip) {
			return true
		}
	}
	return false
}

// ptrCache maps a reverse-lookup PTR name to the IP it was resolved from,
// alongside the full public IP set the PTR lookups were run against (not
// every public IP has a PTR record, but all of them are still fallback
// candidates).
type ptrCache struct {
	mu        sync.RWMutex
	ptrToIP   map[string]net.IP
	allPublic []net.IP
}

func newPTRCache() *ptrCache {
	return &ptrCache{ptrToIP: make(map[string]net.IP)}
}

// Refresh performs a reverse lookup for every given IP and rebuilds the
// cache. Failed lookups are simply omitted from ptrToIP, but ips is kept in
// full as the public IP set for fallback purposes.
func (c *ptrCache) Refresh(ctx context.Context, ips []net.IP) {
	entries := make(map[string]net.IP, len(ips))
	resolver := net.DefaultResolver
	for _, ip := range ips {
		names, err := resolver.LookupAddr(ctx, ip.String())
		if err != nil || len(names) == 0 {
			continue
		}
		entries[strings.TrimSuffix(strings.ToLower(names[0]), ".")] = ip
	}
	c.mu.Lock()
	c.ptrToIP = entries
	c.allPublic = ips
	c.mu.Unlock()
}

// PublicIPs returns the full public IP set the cache was last refreshed
// with, regardless of which of them resolved a PTR name.
func (c *ptrCache) PublicIPs() []net.IP {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.allPublic
}

// Resolve picks the best IP for a dynamic A/AAAA answer to qname, following
// the PTR-matching priority order: exact PTR match, sub/super-domain PTR
// match, shared root domain, then the first public IP.
func (c *ptrCache) Resolve(qname string, allPublic []net.IP, primaryIPv4 net.IP) net.IP {
	qname = strings.TrimSuffix(strings.ToLower(qname), ".")

	c.mu.RLock()
	defer c.mu.RUnlock()

	if ip, ok := c.ptrToIP[qname]; ok {
		return ip
	}
	for ptr, ip := range c.ptrToIP {
		if strings.HasSuffix(qname, "."+ptr) || strings.HasSuffix(ptr, "."+qname) {
			return ip
		}
	}
	qRoot := rootDomain(qname)
	for ptr, ip := range c.ptrToIP {
		if rootDomain(ptr) == qRoot {
			return ip
		}
	}
	if len(allPublic) > 0 {
		return allPublic[0]
	}
	return primaryIPv4
}

// rootDomain returns the last two labels of a dotted name.
func rootDomain(name string) string {
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return name
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
