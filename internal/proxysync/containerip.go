package proxysync

import "github.com/moby/moby/api/types/container"

// firstContainerIP returns the IP address of the first network a container
// is attached to, mirroring the App Supervisor's own port-discovery lookup.
func firstContainerIP(ns *container.NetworkSettings) string {
	for _, ep := range ns.Networks {
		if ep != nil && ep.IPAddress != "" {
			return ep.IPAddress
		}
	}
	return ""
}
