package apps

import (
	"context"
	"time"

	"github.com/odac-run/odac/internal/metrics"
	"github.com/odac-run/odac/internal/model"
)

// tickInterval is the watchdog's reconciliation frequency (1 Hz, per the
// Service Orchestrator's shared tick).
const tickInterval = time.Second

// Check runs one watchdog reconciliation pass: every active app not
// currently mid-transition is checked against the runtime; a declared
// "running" app whose backend is gone, or a non-stopped/errored/
// starting/installing app with no live backend, is re-run.
func (s *Supervisor) Check(ctx context.Context) {
	metrics.WatchdogTicks.Inc()

	for _, app := range s.store.Apps().List() {
		if !app.Active || s.isProcessing(app.Name) {
			continue
		}

		alive := s.isAlive(ctx, app)

		switch {
		case app.Status == model.StatusRunning && !alive:
			s.log.Warn("watchdog: running app backend is gone, re-running", "app", app.Name)
			if err := s.RestartApp(ctx, app.Name, "backend_gone"); err != nil {
				s.log.Error("watchdog: restart failed", "app", app.Name, "error", err)
			}
		case !alive && !terminalOrTransitional(app.Status):
			s.log.Warn("watchdog: app not alive in unexpected state, re-running", "app", app.Name, "status", app.Status)
			if err := s.RestartApp(ctx, app.Name, "unexpected_state"); err != nil {
				s.log.Error("watchdog: restart failed", "app", app.Name, "error", err)
			}
		case alive && app.Status == model.StatusRunning && !s.hasRuntimeLog(app.Name):
			s.log.Info("watchdog: reattaching runtime log stream", "app", app.Name)
			s.attachRuntimeLog(app.Name, app.ContainerID)
		}
	}
}

func terminalOrTransitional(status model.AppStatus) bool {
	switch status {
	case model.StatusStopped, model.StatusErrored, model.StatusStarting, model.StatusInstalling:
		return true
	default:
		return false
	}
}

// isAlive asks the runtime whether the app's backing container is running.
func (s *Supervisor) isAlive(ctx context.Context, app model.App) bool {
	if app.ContainerID == "" {
		return false
	}
	inspect, err := s.rt.InspectContainer(ctx, app.ContainerID)
	if err != nil {
		return false
	}
	return inspect.State != nil && inspect.State.Running
}

// StartWatchdog runs Check once immediately and then every tickInterval
// until ctx is cancelled.
func (s *Supervisor) StartWatchdog(ctx context.Context) {
	s.Check(ctx)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}
