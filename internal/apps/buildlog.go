package apps

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var errorLine = regexp.MustCompile(`(?i)error`)
var warningLine = regexp.MustCompile(`(?i)warning`)

// BuildPhase records the start/end and outcome of one named stage of a
// git-deploy pipeline (validate, fetch, build, stop, start, proxy_propagation).
type BuildPhase struct {
	Name     string    `json:"name"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end,omitempty"`
	Duration float64   `json:"duration"` // seconds
	Status   string    `json:"status"`   // "running", "pass", "fail"
	Errors   int       `json:"errors"`
	Warnings int       `json:"warnings"`
}

// BuildSummary is the persisted <buildId>.json record for one build run.
type BuildSummary struct {
	ID        string            `json:"id"`
	App       string            `json:"app"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  float64           `json:"duration"`
	Status    string            `json:"status"`
	Errors    int               `json:"errors"`
	Warnings  int               `json:"warnings"`
	Phases    []*BuildPhase     `json:"phases"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// buildLog tags lines from build/subprocess output as errors or warnings
// and attributes counts to whichever phase is currently open.
type buildLog struct {
	app      string
	id       string
	start    time.Time
	phases   []*BuildPhase
	current  *BuildPhase
	errors   int
	warnings int
	metadata map[string]string
}

func newBuildLog(app string) *buildLog {
	return &buildLog{
		app:      app,
		id:       uuid.NewString(),
		start:    time.Now(),
		metadata: map[string]string{},
	}
}

// startPhase closes any currently-open phase as "pass" and opens a new one.
func (b *buildLog) startPhase(name string) {
	if b.current != nil {
		b.endPhase("pass")
	}
	b.current = &BuildPhase{Name: name, Start: time.Now(), Status: "running"}
	b.phases = append(b.phases, b.current)
}

// endPhase closes the currently-open phase with the given status.
func (b *buildLog) endPhase(status string) {
	if b.current == nil {
		return
	}
	b.current.End = time.Now()
	b.current.Duration = b.current.End.Sub(b.current.Start).Seconds()
	b.current.Status = status
	b.current = nil
}

// onLine tags a line of subprocess output as an error or warning, excluding
// the noisy false positives the spec calls out (node_modules paths, "npm
// warn" lines), and attributes the count to the open phase if any.
func (b *buildLog) onLine(line string) {
	lower := strings.ToLower(line)
	switch {
	case errorLine.MatchString(line) && !strings.Contains(lower, "node_modules"):
		b.errors++
		if b.current != nil {
			b.current.Errors++
		}
	case warningLine.MatchString(line) && !strings.Contains(lower, "npm warn"):
		b.warnings++
		if b.current != nil {
			b.current.Warnings++
		}
	}
}

// finalize closes any open phase and returns the completed summary.
func (b *buildLog) finalize(status string) BuildSummary {
	if b.current != nil {
		finalPhaseStatus := "pass"
		if status == "failed" {
			finalPhaseStatus = "fail"
		}
		b.endPhase(finalPhaseStatus)
	}
	return BuildSummary{
		ID:        b.id,
		App:       b.app,
		Timestamp: b.start,
		Duration:  time.Since(b.start).Seconds(),
		Status:    status,
		Errors:    b.errors,
		Warnings:  b.warnings,
		Phases:    b.phases,
		Metadata:  b.metadata,
	}
}

// writeSummary persists the summary as <logDir>/<app>/<id>.json.
func writeSummary(logDir, app string, summary BuildSummary) error {
	dir := filepath.Join(logDir, app)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create build log dir: %w", err)
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal build summary: %w", err)
	}
	path := filepath.Join(dir, summary.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write build summary: %w", err)
	}
	return os.Rename(tmp, path)
}

const keepBuildSummaries = 10
const runtimeLogMaxAge = 7 * 24 * time.Hour

// rotateBuildLogs keeps only the most recent keepBuildSummaries .json/.log
// pairs for app, deleting older ones by mtime.
func rotateBuildLogs(logDir, app string) error {
	dir := filepath.Join(logDir, app)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type fileInfo struct {
		base    string
		modTime time.Time
	}
	seen := map[string]fileInfo{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext != ".json" && ext != ".log" {
			continue
		}
		base := strings.TrimSuffix(name, ext)
		info, err := e.Info()
		if err != nil {
			continue
		}
		if existing, ok := seen[base]; !ok || info.ModTime().After(existing.modTime) {
			seen[base] = fileInfo{base: base, modTime: info.ModTime()}
		}
	}

	all := make([]fileInfo, 0, len(seen))
	for _, fi := range seen {
		all = append(all, fi)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].modTime.After(all[j].modTime) })

	if len(all) <= keepBuildSummaries {
		return nil
	}
	for _, fi := range all[keepBuildSummaries:] {
		_ = os.Remove(filepath.Join(dir, fi.base+".json"))
		_ = os.Remove(filepath.Join(dir, fi.base+".log"))
	}
	return nil
}

// pruneRuntimeLogs deletes an app's daily runtime log files
// (logDir/<app>/runtime/<YYYY-MM-DD>.log) older than runtimeLogMaxAge.
func pruneRuntimeLogs(logDir, app string, now time.Time) error {
	dir := filepath.Join(logDir, app, "runtime")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > runtimeLogMaxAge {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}
