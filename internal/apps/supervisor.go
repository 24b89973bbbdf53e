// Package apps implements the App Supervisor: the App lifecycle state
// machine, the git-deploy and zero-downtime redeploy pipelines, runtime
// port discovery, environment resolution, and the 1Hz watchdog that
// reconciles declared state with what the container runtime reports.
package apps

import (
	"context"
	"fmt"
	"sync"

	"github.com/odac-run/odac/internal/clock"
	"github.com/odac-run/odac/internal/configstore"
	"github.com/odac-run/odac/internal/docker"
	"github.com/odac-run/odac/internal/events"
	"github.com/odac-run/odac/internal/logging"
	"github.com/odac-run/odac/internal/metrics"
	"github.com/odac-run/odac/internal/model"
	"github.com/odac-run/odac/internal/store"
)

// ProxySync is the subset of Proxy Sync the supervisor triggers after a
// port changes or a redeploy completes.
type ProxySync interface {
	Trigger(reason string)
}

// Config holds the supervisor's filesystem and image-naming conventions.
type Config struct {
	AppsDir      string // base directory apps are cloned/built under, e.g. "~/.odac/apps"
	LogDir       string // base directory for build/runtime logs, e.g. "~/.odac/logs"
	ImagePrefix  string // "odac-app-"
	DefaultPort  int    // 3000
}

// Supervisor owns the App lifecycle: creation, redeploy, watchdog
// reconciliation, and the concurrency guards serializing both.
type Supervisor struct {
	cfg   Config
	store *configstore.Store
	ops   *store.Store
	rt    docker.API
	proxy ProxySync
	bus   *events.Bus
	log   *logging.Logger
	clk   clock.Clock

	mu          sync.Mutex
	processing  map[string]bool // held for the duration of run/redeploy; watchdog skips these
	creating    map[string]bool // held during create*, rejects duplicate concurrent creates by name
	runtimeLogs map[string]context.CancelFunc // apps with an attached runtime log stream
}

// New creates a Supervisor. Reconciliation runs through Check, which the
// caller drives either from its own 1Hz tick or by calling StartWatchdog.
func New(cfg Config, cs *configstore.Store, ops *store.Store, rt docker.API, proxy ProxySync, bus *events.Bus, log *logging.Logger, clk clock.Clock) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		store:       cs,
		ops:         ops,
		rt:          rt,
		proxy:       proxy,
		bus:         bus,
		log:         log,
		clk:         clk,
		processing:  make(map[string]bool),
		creating:    make(map[string]bool),
		runtimeLogs: make(map[string]context.CancelFunc),
	}
}

// ErrAlreadyCreating is returned when a create is attempted for a name
// that already has one in flight.
var ErrAlreadyCreating = fmt.Errorf("apps: create already in progress for this name")

// ErrAlreadyProcessing is returned when a redeploy or restart is attempted
// on an app that is already mid-transition.
var ErrAlreadyProcessing = fmt.Errorf("apps: app is already processing a transition")

// tryCreating acquires the creating guard for name, or reports it's held.
func (s *Supervisor) tryCreating(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creating[name] {
		return false
	}
	s.creating[name] = true
	return true
}

func (s *Supervisor) releaseCreating(name string) {
	s.mu.Lock()
	delete(s.creating, name)
	s.mu.Unlock()
}

// tryProcessing acquires the processing guard for name, or reports it's held.
func (s *Supervisor) tryProcessing(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing[name] {
		return false
	}
	s.processing[name] = true
	return true
}

func (s *Supervisor) releaseProcessing(name string) {
	s.mu.Lock()
	delete(s.processing, name)
	s.mu.Unlock()
}

// isProcessing reports whether name currently holds the processing lock,
// without acquiring it. Used by the watchdog to skip in-flight apps.
func (s *Supervisor) isProcessing(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing[name]
}

// setStatus transitions an app's persisted status and publishes the change.
func (s *Supervisor) setStatus(name string, status model.AppStatus) {
	s.store.Apps().Mutate(name, func(a *model.App) bool {
		if a.Status == status {
			return false
		}
		a.Status = status
		return true
	})
	s.bus.Publish(events.Event{
		Type:      events.EventAppStatusChanged,
		Subject:   name,
		Message:   string(status),
		Timestamp: s.clk.Now(),
	})
	s.refreshMetrics()
}

func (s *Supervisor) refreshMetrics() {
	apps := s.store.Apps().List()
	metrics.AppsTotal.Set(float64(len(apps)))
	counts := map[model.AppStatus]int{}
	for _, a := range apps {
		counts[a.Status]++
	}
	for _, st := range []model.AppStatus{
		model.StatusInstalling, model.StatusStarting, model.StatusRunning,
		model.StatusStopped, model.StatusErrored, model.StatusUpdating, model.StatusBuilding,
	} {
		metrics.AppsByStatus.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

// CreateContainerApp registers and launches a container-type App from a
// pre-existing image (no build step).
func (s *Supervisor) CreateContainerApp(ctx context.Context, name, image string, ports []model.PortMapping, volumes []model.VolumeMapping, env model.AppEnv, api *model.APICapabilities) (model.App, error) {
	if !s.tryCreating(name) {
		return model.App{}, ErrAlreadyCreating
	}
	defer s.releaseCreating(name)

	if _, exists := s.store.Apps().Get(name); exists {
		return model.App{}, fmt.Errorf("apps: app %q already exists", name)
	}

	app := model.App{
		ID:      s.store.Apps().NextID(),
		Name:    name,
		Type:    model.AppTypeContainer,
		Image:   image,
		Ports:   ports,
		Volumes: volumes,
		Env:     env,
		API:     api,
		Active:  true,
		Status:  model.StatusInstalling,
		Created: s.clk.Now(),
	}
	s.store.Apps().Put(app)
	s.refreshMetrics()

	if err := s.runContainerApp(ctx, &app); err != nil {
		s.setStatus(name, model.StatusErrored)
		return app, err
	}
	app, _ = s.store.Apps().Get(name)
	return app, nil
}

// runContainerApp creates and starts the backing container for a
// container-type or freshly-built git-type App, resolving env and
// publishing ports per the App record.
func (s *Supervisor) runContainerApp(ctx context.Context, app *model.App) error {
	s.setStatus(app.Name, model.StatusStarting)

	envMap := s.resolveEnv(*app)
	cfg, hostCfg, netCfg := buildContainerSpec(*app, envMap, s.cfg.ImagePrefix)

	id, err := s.rt.CreateContainer(ctx, containerName(app.Name), cfg, hostCfg, netCfg)
	if err != nil {
		return fmt.Errorf("create container for %s: %w", app.Name, err)
	}
	if err := s.rt.StartContainer(ctx, id); err != nil {
		return fmt.Errorf("start container for %s: %w", app.Name, err)
	}

	now := s.clk.Now()
	s.store.Apps().Mutate(app.Name, func(a *model.App) bool {
		a.ContainerID = id
		a.Started = &now
		return true
	})
	s.setStatus(app.Name, model.StatusRunning)

	if app.Type == model.AppTypeGit {
		go s.discoverPorts(context.Background(), app.Name, id)
	}
	s.attachRuntimeLog(app.Name, id)
	if s.proxy != nil {
		s.proxy.Trigger("app_started:" + app.Name)
	}
	return nil
}

// containerName is the runtime container name for an App.
func containerName(appName string) string { return "odac-" + appName }

// StopApp stops an App's container and transitions it to stopped.
func (s *Supervisor) StopApp(ctx context.Context, name string) error {
	if !s.tryProcessing(name) {
		return ErrAlreadyProcessing
	}
	defer s.releaseProcessing(name)

	app, ok := s.store.Apps().Get(name)
	if !ok {
		return fmt.Errorf("apps: no such app %q", name)
	}
	if app.ContainerID != "" {
		if err := s.rt.StopContainer(ctx, app.ContainerID, 30); err != nil {
			s.log.Warn("stop failed", "app", name, "error", err)
		}
	}
	s.detachRuntimeLog(name)
	s.store.Apps().Mutate(name, func(a *model.App) bool {
		a.Active = false
		return true
	})
	s.setStatus(name, model.StatusStopped)
	if s.proxy != nil {
		s.proxy.Trigger("app_stopped:" + name)
	}
	return nil
}

// DeleteApp stops and removes an App's container, volumes included, and
// deletes its record. Callers are responsible for cascading domain deletion.
func (s *Supervisor) DeleteApp(ctx context.Context, name string) error {
	if !s.tryProcessing(name) {
		return ErrAlreadyProcessing
	}
	defer s.releaseProcessing(name)

	app, ok := s.store.Apps().Get(name)
	if !ok {
		return fmt.Errorf("apps: no such app %q", name)
	}
	if app.ContainerID != "" {
		_ = s.rt.StopContainer(ctx, app.ContainerID, 10)
		if err := s.rt.RemoveContainerWithVolumes(ctx, app.ContainerID); err != nil {
			s.log.Warn("remove container failed", "app", name, "error", err)
		}
	}
	s.detachRuntimeLog(name)
	s.store.Apps().Delete(name)
	s.refreshMetrics()
	s.bus.Publish(events.Event{
		Type:      events.EventAppStatusChanged,
		Subject:   name,
		Message:   "deleted",
		Timestamp: s.clk.Now(),
	})
	if s.proxy != nil {
		s.proxy.Trigger("app_deleted:" + name)
	}
	return nil
}

// RestartApp re-runs an App's container, used by the watchdog and by an
// explicit restart action.
func (s *Supervisor) RestartApp(ctx context.Context, name, reason string) error {
	if !s.tryProcessing(name) {
		return ErrAlreadyProcessing
	}
	defer s.releaseProcessing(name)

	app, ok := s.store.Apps().Get(name)
	if !ok {
		return fmt.Errorf("apps: no such app %q", name)
	}
	if app.ContainerID != "" {
		if err := s.rt.RestartContainer(ctx, app.ContainerID); err == nil {
			s.setStatus(name, model.StatusRunning)
			metrics.WatchdogRestarts.WithLabelValues(reason).Inc()
			return nil
		}
		s.log.Warn("restart of existing container failed, recreating", "app", name)
		_ = s.rt.RemoveContainer(ctx, app.ContainerID)
		s.detachRuntimeLog(name)
	}
	metrics.WatchdogRestarts.WithLabelValues(reason).Inc()
	return s.runContainerApp(ctx, &app)
}
