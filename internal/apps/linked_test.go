package apps

import (
	"context"
	"testing"

	"github.com/odac-run/odac/internal/model"
)

// seedRunningApp creates and starts a container app named name, optionally
// linked to the given app names.
func seedRunningApp(t *testing.T, sup *Supervisor, name string, linked ...string) {
	t.Helper()
	_, err := sup.CreateContainerApp(context.Background(), name, "nginx:latest", nil, nil, model.AppEnv{Linked: linked}, nil)
	if err != nil {
		t.Fatalf("CreateContainerApp(%s): %v", name, err)
	}
}

func TestStopLinkedGroupStopsDependentsFirst(t *testing.T) {
	sup, rt, _ := testSupervisor(t)
	seedRunningApp(t, sup, "db")
	seedRunningApp(t, sup, "app", "db")

	if err := sup.StopLinkedGroup(context.Background(), "db"); err != nil {
		t.Fatalf("StopLinkedGroup: %v", err)
	}

	if len(rt.stopCalls) != 2 {
		t.Fatalf("stopCalls = %v, want 2 stops", rt.stopCalls)
	}
	appIdx, dbIdx := -1, -1
	for i, id := range rt.stopCalls {
		if id == "new-odac-app" {
			appIdx = i
		}
		if id == "new-odac-db" {
			dbIdx = i
		}
	}
	if appIdx == -1 || dbIdx == -1 || appIdx >= dbIdx {
		t.Errorf("app should stop before db: %v", rt.stopCalls)
	}

	for _, name := range []string{"app", "db"} {
		got, _ := sup.store.Apps().Get(name)
		if got.Status != model.StatusStopped {
			t.Errorf("%s status = %v, want stopped", name, got.Status)
		}
	}
}

func TestStopLinkedGroupUnrelatedAppUntouched(t *testing.T) {
	sup, rt, _ := testSupervisor(t)
	seedRunningApp(t, sup, "db")
	seedRunningApp(t, sup, "cache")

	if err := sup.StopLinkedGroup(context.Background(), "db"); err != nil {
		t.Fatalf("StopLinkedGroup: %v", err)
	}

	for _, id := range rt.stopCalls {
		if id == "new-odac-cache" {
			t.Errorf("cache should not have been stopped: %v", rt.stopCalls)
		}
	}
}

func TestRestartLinkedGroupRestartsInDependencyOrder(t *testing.T) {
	sup, rt, _ := testSupervisor(t)
	seedRunningApp(t, sup, "db")
	seedRunningApp(t, sup, "app", "db")

	if err := sup.RestartLinkedGroup(context.Background(), "db", "test"); err != nil {
		t.Fatalf("RestartLinkedGroup: %v", err)
	}

	if len(rt.restartCalls) != 2 {
		t.Fatalf("restartCalls = %v, want 2 restarts", rt.restartCalls)
	}
	dbIdx, appIdx := -1, -1
	for i, id := range rt.restartCalls {
		if id == "new-odac-db" {
			dbIdx = i
		}
		if id == "new-odac-app" {
			appIdx = i
		}
	}
	if dbIdx == -1 || appIdx == -1 || dbIdx >= appIdx {
		t.Errorf("db should restart before app: %v", rt.restartCalls)
	}
}

func TestLinkedGroupReportsCycle(t *testing.T) {
	sup, _, _ := testSupervisor(t)
	seedRunningApp(t, sup, "a", "b")
	seedRunningApp(t, sup, "b", "a")

	if err := sup.StopLinkedGroup(context.Background(), "a"); err == nil {
		t.Error("expected cycle error from StopLinkedGroup")
	}
}
