package proxysync

import (
	"context"

	"github.com/odac-run/odac/internal/configstore"
	"github.com/odac-run/odac/internal/docker"
	"github.com/odac-run/odac/internal/model"
)

// Entry is the data-plane's routing record for a single top-level domain.
// Container and ContainerIP are only populated when the backend has no
// published host port and must be dialed directly on its container
// network.
type Entry struct {
	Port        int             `json:"port"`
	Subdomain   []string        `json:"subdomain"`
	Cert        model.DomainCert `json:"cert"`
	Container   string          `json:"container,omitempty"`
	ContainerIP string          `json:"containerIP,omitempty"`
}

// Document is the single JSON body pushed to the data-plane binary on
// every sync.
type Document struct {
	Domains  map[string]Entry  `json:"domains"`
	Firewall model.Firewall    `json:"firewall"`
	SSL      model.SSLMaterial `json:"ssl"`
}

// buildDocument snapshots the config store into the data-plane's view.
// Only top-level Domain records are walked: folded subdomains already live
// inside their parent's Subdomain slice and share its Entry.
func buildDocument(ctx context.Context, cs *configstore.Store, rt docker.API, defaultPort int) Document {
	doc := Document{
		Domains:  make(map[string]Entry),
		Firewall: cs.Firewall().Get(),
		SSL:      cs.SSL().Get(),
	}

	for _, dom := range cs.Domains().List() {
		app, ok := cs.Apps().Get(dom.AppID)
		if !ok {
			continue
		}
		doc.Domains[dom.FQDN] = buildEntry(ctx, rt, app, dom, defaultPort)
	}
	return doc
}

func buildEntry(ctx context.Context, rt docker.API, app model.App, dom model.Domain, defaultPort int) Entry {
	entry := Entry{
		Port:      choosePort(app, defaultPort),
		Subdomain: dom.Subdomain,
		Cert:      dom.Cert,
	}

	if _, published := publishedHostPort(app); published {
		// Docker already bound the host port; the data plane dials
		// 127.0.0.1 directly and never needs the container identity.
		return entry
	}

	entry.Container = app.ContainerID
	entry.ContainerIP = resolveContainerIP(ctx, rt, app)
	return entry
}

// choosePort picks the port the data plane should dial: a published host
// port takes priority (and is dialed on 127.0.0.1), then the app's
// declared container port, then the supervisor-wide default.
func choosePort(app model.App, defaultPort int) int {
	if hostPort, ok := publishedHostPort(app); ok {
		return hostPort
	}
	if len(app.Ports) > 0 && app.Ports[0].Container != 0 {
		return app.Ports[0].Container
	}
	return defaultPort
}

func publishedHostPort(app model.App) (int, bool) {
	if len(app.Ports) > 0 && app.Ports[0].Host != 0 {
		return app.Ports[0].Host, true
	}
	return 0, false
}

// resolveContainerIP finds the address to dial a container-only backend
// on: the runtime-reported IP if the container is inspectable, else the
// last-known cached IP, else 127.0.0.1 as a fail-secure bad-gateway signal
// rather than guessing wrong.
func resolveContainerIP(ctx context.Context, rt docker.API, app model.App) string {
	if app.ContainerID != "" && rt != nil {
		if inspect, err := rt.InspectContainer(ctx, app.ContainerID); err == nil && inspect.NetworkSettings != nil {
			if ip := firstContainerIP(inspect.NetworkSettings); ip != "" {
				return ip
			}
		}
	}
	if app.CachedIP != "" {
		return app.CachedIP
	}
	return "127.0.0.1"
}
