package apps

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/odac-run/odac/internal/model"
)

const (
	portDiscoveryAttempts    = 20
	portDiscoveryGraceRounds = 5
	portDiscoveryInterval    = time.Second
)

// preferredListeners is the priority order used once the grace period has
// elapsed and the expected port never showed up: accept any of these
// before falling back to the lowest-numbered port seen.
var preferredListeners = []int{80, 8080, 3000, 5000}

// discoverPorts polls a freshly-started git app's container for its
// actual listening ports. If the expected port (if the App already
// declares one) appears, it's accepted as-is. Otherwise, after a grace
// period, a preferred listener is chosen, or else the lowest-numbered one;
// the chosen port is persisted and Proxy Sync is triggered.
func (s *Supervisor) discoverPorts(ctx context.Context, appName, containerID string) {
	app, ok := s.store.Apps().Get(appName)
	if !ok {
		return
	}
	expected := containerPort(app)

	for attempt := 0; attempt < portDiscoveryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-s.clk.After(portDiscoveryInterval):
		}

		inspect, err := s.rt.InspectContainer(ctx, containerID)
		if err != nil {
			continue
		}
		if inspect.NetworkSettings == nil {
			continue
		}
		ports := listeningPorts(inspect.NetworkSettings)
		if len(ports) == 0 {
			continue
		}
		if expected != 0 && containsPort(ports, expected) {
			s.finalizeDiscoveredPort(appName, expected, inspect.NetworkSettings)
			return
		}
		if attempt < portDiscoveryGraceRounds {
			continue
		}
		chosen := choosePreferred(ports)
		s.finalizeDiscoveredPort(appName, chosen, inspect.NetworkSettings)
		return
	}
	s.log.Warn("port discovery gave up without finding a listener", "app", appName)
}

func (s *Supervisor) finalizeDiscoveredPort(appName string, port int, ns *container.NetworkSettings) {
	ip := firstContainerIP(ns)
	s.store.Apps().Mutate(appName, func(a *model.App) bool {
		changed := false
		if containerPort(*a) != port {
			a.Ports = []model.PortMapping{{Container: port}}
			changed = true
		}
		if ip != "" && a.CachedIP != ip {
			a.CachedIP = ip
			changed = true
		}
		return changed
	})
	if s.proxy != nil {
		s.proxy.Trigger("port_discovered:" + appName)
	}
}

func containsPort(ports []int, p int) bool {
	for _, v := range ports {
		if v == p {
			return true
		}
	}
	return false
}

func choosePreferred(ports []int) int {
	set := make(map[int]bool, len(ports))
	for _, p := range ports {
		set[p] = true
	}
	for _, pref := range preferredListeners {
		if set[pref] {
			return pref
		}
	}
	sorted := append([]int(nil), ports...)
	sort.Ints(sorted)
	return sorted[0]
}

// listeningPorts extracts the container-side port numbers from a
// container's reported NetworkSettings. A port is considered listening
// once it's exposed at all, regardless of whether it also has a host
// binding — the default git-deploy app declares only a container port
// with no host publish, and is resolved via its container IP instead
// (see firstContainerIP), so a host binding is never required here.
func listeningPorts(ns *container.NetworkSettings) []int {
	var out []int
	for spec := range ns.Ports {
		if n := parsePortSpec(string(spec)); n != 0 {
			out = append(out, n)
		}
	}
	return out
}

func parsePortSpec(spec string) int {
	idx := strings.IndexByte(spec, '/')
	if idx < 0 {
		idx = len(spec)
	}
	n, err := strconv.Atoi(spec[:idx])
	if err != nil {
		return 0
	}
	return n
}

// firstContainerIP returns the IP address of the first attached network,
// used as the cached fallback address for Proxy Sync when live discovery
// is unavailable.
func firstContainerIP(ns *container.NetworkSettings) string {
	for _, ep := range ns.Networks {
		if ep != nil && ep.IPAddress != "" {
			return ep.IPAddress
		}
	}
	return ""
}
