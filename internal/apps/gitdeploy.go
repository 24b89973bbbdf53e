package apps

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/odac-run/odac/internal/events"
	"github.com/odac-run/odac/internal/metrics"
	"github.com/odac-run/odac/internal/model"
)

// GitSpec describes a git-type App's create/redeploy parameters.
type GitSpec struct {
	Repo      string
	Provider  string
	Branch    string
	CommitSHA string
	Token     string // deploy token, passed to git only via environment
	Env       model.AppEnv
	API       *model.APICapabilities
}

// CreateFromGit runs the five-phase git-deploy pipeline: validate, clone,
// build, register, run. Each phase is tracked in the build log; failure at
// any phase finalizes the log as failed, and once the App record exists
// (after validate) also marks the App errored.
func (s *Supervisor) CreateFromGit(ctx context.Context, name string, spec GitSpec) (model.App, error) {
	if !s.tryCreating(name) {
		return model.App{}, ErrAlreadyCreating
	}
	defer s.releaseCreating(name)

	if _, exists := s.store.Apps().Get(name); exists {
		return model.App{}, fmt.Errorf("apps: app %q already exists", name)
	}

	bl := newBuildLog(name)
	repoDir := filepath.Join(s.cfg.AppsDir, name)

	bl.startPhase("validate")
	if err := validateGitURL(spec.Repo); err != nil {
		return s.failGitDeploy(name, bl, repoDir, fmt.Errorf("validate: %w", err))
	}
	if err := validateBranch(spec.Branch); err != nil {
		return s.failGitDeploy(name, bl, repoDir, fmt.Errorf("validate: %w", err))
	}
	if err := validateCommitSHA(spec.CommitSHA); err != nil {
		return s.failGitDeploy(name, bl, repoDir, fmt.Errorf("validate: %w", err))
	}

	app := model.App{
		ID:   s.store.Apps().NextID(),
		Name: name,
		Type: model.AppTypeGit,
		Git:  &model.GitSource{Repo: spec.Repo, Provider: spec.Provider, Branch: spec.Branch},
		Env:  spec.Env,
		API:  spec.API,
		Active:    true,
		Status:    model.StatusInstalling,
		Created:   s.clk.Now(),
		CommitSHA: spec.CommitSHA,
	}
	s.store.Apps().Put(app)
	s.refreshMetrics()

	bl.startPhase("clone")
	if err := cloneRepo(ctx, spec.Repo, spec.Branch, repoDir, spec.Token); err != nil {
		return s.failGitDeploy(name, bl, repoDir, fmt.Errorf("clone: %w", err))
	}
	if sha, err := headCommit(ctx, repoDir); err == nil {
		app.CommitSHA = sha
		s.store.Apps().Mutate(name, func(a *model.App) bool { a.CommitSHA = sha; return true })
	}

	bl.startPhase("build")
	tag := s.cfg.ImagePrefix + name
	if err := s.buildImage(ctx, tag, repoDir, bl); err != nil {
		return s.failGitDeploy(name, bl, repoDir, fmt.Errorf("build: %w", err))
	}

	bl.startPhase("register")
	defaultPort := s.cfg.DefaultPort
	if defaultPort == 0 {
		defaultPort = 3000
	}
	s.store.Apps().Mutate(name, func(a *model.App) bool {
		a.Ports = []model.PortMapping{{Container: defaultPort}}
		return true
	})

	bl.startPhase("run")
	app, _ = s.store.Apps().Get(name)
	if err := s.runContainerApp(ctx, &app); err != nil {
		return s.failGitDeploy(name, bl, repoDir, fmt.Errorf("run: %w", err))
	}

	summary := bl.finalize("success")
	_ = writeSummary(s.cfg.LogDir, name, summary)
	_ = rotateBuildLogs(s.cfg.LogDir, name)

	app, _ = s.store.Apps().Get(name)
	return app, nil
}

func (s *Supervisor) failGitDeploy(name string, bl *buildLog, repoDir string, cause error) (model.App, error) {
	s.log.Error("git deploy failed", "app", name, "error", cause)
	s.setStatus(name, model.StatusErrored)
	summary := bl.finalize("failed")
	_ = writeSummary(s.cfg.LogDir, name, summary)
	app, _ := s.store.Apps().Get(name)
	return app, cause
}

// buildImage archives repoDir and runs docker build, tagging build log
// lines as errors/warnings as they stream.
func (s *Supervisor) buildImage(ctx context.Context, tag, repoDir string, bl *buildLog) error {
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Minute)
	defer cancel()

	buildCtx, err := archiveForBuild(repoDir)
	if err != nil {
		return err
	}
	return s.rt.BuildImage(ctx2, tag, buildCtx, "", bl.onLine)
}

// Redeploy runs the zero-downtime pipeline: fetchRepo, build, stop, start,
// proxy_propagation. The old container keeps serving traffic through the
// fetch and build phases. The whole pipeline holds the processing lock.
func (s *Supervisor) Redeploy(ctx context.Context, name string, spec GitSpec) error {
	if !s.tryProcessing(name) {
		return ErrAlreadyProcessing
	}
	defer s.releaseProcessing(name)

	app, ok := s.store.Apps().Get(name)
	if !ok {
		return fmt.Errorf("apps: no such app %q", name)
	}
	if app.Type != model.AppTypeGit {
		return fmt.Errorf("apps: %q is not a git app", name)
	}

	start := s.clk.Now()
	bl := newBuildLog(name)
	repoDir := filepath.Join(s.cfg.AppsDir, name)
	s.setStatus(name, model.StatusUpdating)

	bl.startPhase("fetchRepo")
	var fetchErr error
	if repoExists(repoDir) {
		fetchErr = fetchRepo(ctx, repoDir, spec.Branch, spec.CommitSHA, spec.Token)
	} else {
		fetchErr = cloneRepo(ctx, spec.Repo, spec.Branch, repoDir, spec.Token)
	}
	if fetchErr != nil {
		return s.failRedeploy(name, bl, start, fmt.Errorf("fetchRepo: %w", fetchErr))
	}

	bl.startPhase("build")
	s.setStatus(name, model.StatusBuilding)
	tag := s.cfg.ImagePrefix + name
	if err := s.buildImage(ctx, tag, repoDir, bl); err != nil {
		return s.failRedeploy(name, bl, start, fmt.Errorf("build: %w", err))
	}

	bl.startPhase("stop")
	oldContainerID := app.ContainerID
	if oldContainerID != "" {
		if err := s.rt.StopContainer(ctx, oldContainerID, 30); err != nil {
			s.log.Warn("redeploy: stop old container failed", "app", name, "error", err)
		}
		if err := s.rt.RemoveContainer(ctx, oldContainerID); err != nil {
			return s.failRedeploy(name, bl, start, fmt.Errorf("stop: remove old container: %w", err))
		}
	}

	bl.startPhase("start")
	s.setStatus(name, model.StatusStarting)
	if sha, err := headCommit(ctx, repoDir); err == nil {
		s.store.Apps().Mutate(name, func(a *model.App) bool { a.CommitSHA = sha; return true })
	}
	app, _ = s.store.Apps().Get(name)
	if err := s.runContainerApp(ctx, &app); err != nil {
		return s.failRedeploy(name, bl, start, fmt.Errorf("start: %w", err))
	}

	bl.startPhase("proxy_propagation")
	if s.proxy != nil {
		s.proxy.Trigger("redeploy:" + name)
	}

	summary := bl.finalize("success")
	_ = writeSummary(s.cfg.LogDir, name, summary)
	_ = rotateBuildLogs(s.cfg.LogDir, name)

	metrics.RedeploysTotal.WithLabelValues("success").Inc()
	metrics.RedeployDuration.Observe(s.clk.Since(start).Seconds())
	s.bus.Publish(events.Event{Type: events.EventAppRedeployed, Subject: name, Timestamp: s.clk.Now()})
	return nil
}

func (s *Supervisor) failRedeploy(name string, bl *buildLog, start time.Time, cause error) error {
	s.log.Error("redeploy failed", "app", name, "error", cause)
	s.setStatus(name, model.StatusErrored)
	summary := bl.finalize("failed")
	_ = writeSummary(s.cfg.LogDir, name, summary)
	metrics.RedeploysTotal.WithLabelValues("failed").Inc()
	metrics.RedeployDuration.Observe(s.clk.Since(start).Seconds())
	return cause
}
