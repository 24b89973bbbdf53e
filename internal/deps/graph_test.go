package deps

import (
	"testing"

	"github.com/odac-run/odac/internal/model"
)

func appWithLinks(name string, linked ...string) model.App {
	return model.App{Name: name, Env: model.AppEnv{Linked: linked}}
}

func TestStartOrderLinearChain(t *testing.T) {
	apps := []model.App{
		appWithLinks("app", "db"),
		appWithLinks("db"),
		appWithLinks("proxy", "app"),
	}

	g := Build(apps)
	order, err := g.StartOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	idx := make(map[string]int)
	for i, name := range order {
		idx[name] = i
	}
	if idx["db"] >= idx["app"] {
		t.Errorf("db should start before app: %v", order)
	}
	if idx["app"] >= idx["proxy"] {
		t.Errorf("app should start before proxy: %v", order)
	}
}

func TestStopOrderIsReverseOfStartOrder(t *testing.T) {
	apps := []model.App{
		appWithLinks("app", "db"),
		appWithLinks("db"),
		appWithLinks("proxy", "app"),
	}

	g := Build(apps)
	start, err := g.StartOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stop, err := g.StopOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(start) != len(stop) {
		t.Fatalf("start/stop length mismatch: %d vs %d", len(start), len(stop))
	}
	for i := range start {
		if start[i] != stop[len(stop)-1-i] {
			t.Fatalf("stop order is not the reverse of start order: start=%v stop=%v", start, stop)
		}
	}
	// proxy links to app, so proxy must stop before app.
	idx := make(map[string]int)
	for i, name := range stop {
		idx[name] = i
	}
	if idx["proxy"] >= idx["app"] {
		t.Errorf("proxy should stop before app: %v", stop)
	}
}

func TestDiamondDependency(t *testing.T) {
	apps := []model.App{
		appWithLinks("top", "left", "right"),
		appWithLinks("left", "bottom"),
		appWithLinks("right", "bottom"),
		appWithLinks("bottom"),
	}

	g := Build(apps)
	order, err := g.StartOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	idx := make(map[string]int)
	for i, name := range order {
		idx[name] = i
	}
	if idx["bottom"] >= idx["left"] || idx["bottom"] >= idx["right"] {
		t.Errorf("bottom should come first: %v", order)
	}
	if idx["left"] >= idx["top"] || idx["right"] >= idx["top"] {
		t.Errorf("top should come last: %v", order)
	}
}

func TestCycleDetection(t *testing.T) {
	apps := []model.App{
		appWithLinks("a", "b"),
		appWithLinks("b", "c"),
		appWithLinks("c", "a"),
	}

	g := Build(apps)
	cycles := g.DetectCycles()
	if len(cycles) == 0 {
		t.Error("expected cycle to be detected")
	}
	if _, err := g.StartOrder(); err == nil {
		t.Error("StartOrder should return error for cyclic graph")
	}
}

func TestNoLinksStillOrdersEveryApp(t *testing.T) {
	apps := []model.App{
		appWithLinks("alpha"),
		appWithLinks("beta"),
		appWithLinks("gamma"),
	}

	g := Build(apps)
	order, err := g.StartOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 3 {
		t.Errorf("expected 3 apps, got %d: %v", len(order), order)
	}
}

func TestLinkOutsideSetIsIgnored(t *testing.T) {
	apps := []model.App{
		appWithLinks("app", "not-in-this-batch"),
	}

	g := Build(apps)
	order, err := g.StartOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 1 || order[0] != "app" {
		t.Errorf("order = %v, want [app]", order)
	}
	if deps := g.Dependencies("app"); deps != nil {
		t.Errorf("Dependencies(app) = %v, want nil (dangling link ignored)", deps)
	}
}

func TestDependentsAndDependencies(t *testing.T) {
	apps := []model.App{
		appWithLinks("app", "db"),
		appWithLinks("db"),
		appWithLinks("cache"),
	}

	g := Build(apps)
	if got := g.Dependents("db"); len(got) != 1 || got[0] != "app" {
		t.Errorf("Dependents(db) = %v, want [app]", got)
	}
	if got := g.Dependencies("app"); len(got) != 1 || got[0] != "db" {
		t.Errorf("Dependencies(app) = %v, want [db]", got)
	}
	if got := g.Dependents("cache"); got != nil {
		t.Errorf("Dependents(cache) = %v, want nil", got)
	}
}
