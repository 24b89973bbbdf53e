package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/odac-run/odac/internal/apps"
	"github.com/odac-run/odac/internal/configstore"
	"github.com/odac-run/odac/internal/logging"
	"github.com/odac-run/odac/internal/model"
)

// Redeployer is the subset of the App Supervisor a push event triggers.
type Redeployer interface {
	Redeploy(ctx context.Context, name string, spec apps.GitSpec) error
}

// Handler matches an inbound push payload to a git-backed App and
// redeploys it. This is the concrete implementation of
// controlapi.Webhook.
type Handler struct {
	store *configstore.Store
	apps  Redeployer
	log   *logging.Logger
}

// New creates a Handler.
func New(cs *configstore.Store, redeployer Redeployer, log *logging.Logger) *Handler {
	return &Handler{store: cs, apps: redeployer, log: log}
}

// HandlePush parses payload per provider, finds the git-backed App whose
// declared repo matches (preferring one whose pinned branch equals the
// pushed branch, see findMatch), and triggers its redeploy pipeline with
// the pushed commit. It returns the matched App's name.
func (h *Handler) HandlePush(ctx context.Context, provider string, payload json.RawMessage) (string, error) {
	p, err := Parse(provider, payload)
	if err != nil {
		return "", fmt.Errorf("webhook: %w", err)
	}

	app, ok := h.findMatch(p)
	if !ok {
		return "", fmt.Errorf("webhook: no git app matches repo %q", p.Repo)
	}

	h.log.Info("webhook triggering redeploy", "app", app.Name, "provider", p.Provider, "commit", p.CommitSHA)

	spec := apps.GitSpec{
		Repo:      app.Git.Repo,
		Provider:  app.Git.Provider,
		Branch:    app.Git.Branch,
		CommitSHA: p.CommitSHA,
		Env:       app.Env,
		API:       app.API,
	}
	if err := h.apps.Redeploy(ctx, app.Name, spec); err != nil {
		return "", err
	}
	return app.Name, nil
}

// findMatch returns the single git-backed App whose Git.Repo matches the
// pushed repo, preferring one whose Git.Branch also matches when the
// push carries a branch.
func (h *Handler) findMatch(p *Payload) (model.App, bool) {
	var branchMatch *model.App
	var repoOnlyMatch *model.App

	for _, a := range h.store.Apps().List() {
		if a.Type != model.AppTypeGit || a.Git == nil {
			continue
		}
		if !repoEqual(a.Git.Repo, p.Repo) {
			continue
		}
		app := a
		if p.Branch != "" && a.Git.Branch == p.Branch {
			branchMatch = &app
			break
		}
		if repoOnlyMatch == nil {
			repoOnlyMatch = &app
		}
	}

	if branchMatch != nil {
		return *branchMatch, true
	}
	if repoOnlyMatch != nil {
		return *repoOnlyMatch, true
	}
	return model.App{}, false
}

// repoEqual compares two repo references tolerant of a trailing ".git"
// suffix and letter case, since the same repo arrives as a bare
// "owner/name" from one provider and a full clone URL from another.
func repoEqual(a, b string) bool {
	norm := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		s = strings.TrimSuffix(s, ".git")
		s = strings.TrimSuffix(s, "/")
		return s
	}
	na, nb := norm(a), norm(b)
	return na == nb || strings.HasSuffix(na, nb) || strings.HasSuffix(nb, na)
}
