package apps

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBuildLogPhasesAndLineTagging(t *testing.T) {
	bl := newBuildLog("blog")
	bl.startPhase("clone")
	bl.onLine("Cloning into 'blog'...")
	bl.startPhase("build")
	bl.onLine("npm WARN deprecated foo@1.0.0")
	bl.onLine("Error: could not resolve dependency")
	bl.onLine("found 2 errors inside node_modules/foo")

	summary := bl.finalize("success")

	if summary.Errors != 1 {
		t.Errorf("Errors = %d, want 1 (node_modules error excluded)", summary.Errors)
	}
	if summary.Warnings != 0 {
		t.Errorf("Warnings = %d, want 0 (npm warn excluded)", summary.Warnings)
	}
	if len(summary.Phases) != 2 {
		t.Fatalf("Phases = %d, want 2", len(summary.Phases))
	}
	if summary.Phases[0].Status != "pass" {
		t.Errorf("first phase status = %q, want pass (closed when next phase started)", summary.Phases[0].Status)
	}
	if summary.Phases[1].Name != "build" || summary.Phases[1].Errors != 1 {
		t.Errorf("build phase = %+v", summary.Phases[1])
	}
	if summary.Status != "success" {
		t.Errorf("Status = %q", summary.Status)
	}
}

func TestBuildLogFinalizeFailedClosesOpenPhaseAsFail(t *testing.T) {
	bl := newBuildLog("blog")
	bl.startPhase("build")
	summary := bl.finalize("failed")

	if summary.Phases[0].Status != "fail" {
		t.Errorf("open phase status = %q, want fail", summary.Phases[0].Status)
	}
}

func TestWriteSummaryAtomic(t *testing.T) {
	dir := t.TempDir()
	summary := BuildSummary{ID: "abc123", App: "blog", Timestamp: time.Now(), Status: "success"}

	if err := writeSummary(dir, "blog", summary); err != nil {
		t.Fatalf("writeSummary: %v", err)
	}

	path := filepath.Join(dir, "blog", "abc123.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var got BuildSummary
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "abc123" || got.App != "blog" {
		t.Errorf("got = %+v", got)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("expected .tmp file to be renamed away")
	}
}

func TestRotateBuildLogsKeepsMostRecent(t *testing.T) {
	dir := t.TempDir()
	appDir := filepath.Join(dir, "blog")
	if err := os.MkdirAll(appDir, 0755); err != nil {
		t.Fatal(err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < keepBuildSummaries+5; i++ {
		id := string(rune('a' + i))
		jsonPath := filepath.Join(appDir, id+".json")
		if err := os.WriteFile(jsonPath, []byte("{}"), 0644); err != nil {
			t.Fatal(err)
		}
		mtime := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(jsonPath, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	if err := rotateBuildLogs(dir, "blog"); err != nil {
		t.Fatalf("rotateBuildLogs: %v", err)
	}

	entries, err := os.ReadDir(appDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != keepBuildSummaries {
		t.Errorf("remaining entries = %d, want %d", len(entries), keepBuildSummaries)
	}
}

func TestPruneRuntimeLogsDeletesOldFiles(t *testing.T) {
	dir := t.TempDir()
	runtimeDir := filepath.Join(dir, "blog", "runtime")
	if err := os.MkdirAll(runtimeDir, 0755); err != nil {
		t.Fatal(err)
	}
	old := filepath.Join(runtimeDir, "old.log")
	fresh := filepath.Join(runtimeDir, "fresh.log")
	if err := os.WriteFile(old, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fresh, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	oldTime := time.Now().Add(-8 * 24 * time.Hour)
	if err := os.Chtimes(old, oldTime, oldTime); err != nil {
		t.Fatal(err)
	}

	if err := pruneRuntimeLogs(dir, "blog", time.Now()); err != nil {
		t.Fatalf("pruneRuntimeLogs: %v", err)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("expected old.log to be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("expected fresh.log to survive")
	}
}
