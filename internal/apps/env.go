package apps

import (
	"fmt"
	"strconv"

	"github.com/docker/go-connections/nat"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"

	"github.com/odac-run/odac/internal/auth"
	"github.com/odac-run/odac/internal/model"
)

// resolveEnv computes the final environment for an App, following the
// spec's fixed merge order: a framework seed, then each linked app's
// manual env (non-recursive), then this app's own manual env overriding
// those, then framework-injected PORT and API capability variables.
func (s *Supervisor) resolveEnv(app model.App) map[string]string {
	env := map[string]string{"ODAC_APP": "true"}

	for _, linkedName := range app.Env.Linked {
		linked, ok := s.store.Apps().Get(linkedName)
		if !ok {
			continue
		}
		for k, v := range linked.Env.Manual {
			env[k] = v
		}
	}

	for k, v := range app.Env.Manual {
		env[k] = v
	}

	if port := containerPort(app); port != 0 {
		env["PORT"] = strconv.Itoa(port)
	}

	if app.API != nil && app.API.Enabled {
		rootKey := s.store.API().Get().Auth
		if rootKey != "" {
			env["ODAC_API_KEY"] = auth.DeriveCapabilityToken(rootKey, app.Name)
		}
		env["ODAC_API_SOCKET"] = "/var/run/odac/api.sock"
	}

	return env
}

// containerPort returns the app's declared container port, or 0 if none
// is set yet (pre-discovery for a fresh git app).
func containerPort(app model.App) int {
	if len(app.Ports) > 0 {
		return app.Ports[0].Container
	}
	return 0
}

// buildContainerSpec translates an App record plus resolved environment
// into the moby container/network config structs CreateContainer expects.
func buildContainerSpec(app model.App, env map[string]string, imagePrefix string) (*container.Config, *container.HostConfig, *network.NetworkingConfig) {
	image := app.Image
	if app.Type == model.AppTypeGit {
		image = imagePrefix + app.Name
	}

	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, fmt.Sprintf("%s=%s", k, v))
	}

	exposed := make(nat.PortSet)
	bindings := make(nat.PortMap)
	for _, pm := range app.Ports {
		portKey := nat.Port(fmt.Sprintf("%d/tcp", pm.Container))
		exposed[portKey] = struct{}{}
		if pm.Host != 0 {
			bindings[portKey] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(pm.Host)}}
		}
	}

	var binds []string
	for _, vm := range app.Volumes {
		binds = append(binds, vm.Host+":"+vm.Container)
	}

	cfg := &container.Config{
		Image:        image,
		Env:          envList,
		ExposedPorts: exposed,
		Labels:       map[string]string{"odac.app": app.Name, "odac.managed": "true"},
	}
	hostCfg := &container.HostConfig{
		Binds:        binds,
		PortBindings: bindings,
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
	}
	return cfg, hostCfg, nil
}
