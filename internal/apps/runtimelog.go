package apps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/moby/moby/api/pkg/stdcopy"
)

// attachRuntimeLog starts a following log stream for an app's container,
// persisting combined stdout/stderr to logs/<app>/runtime/<YYYY-MM-DD>.log
// with daily rotation. It is a no-op if a stream is already attached for
// this app name.
func (s *Supervisor) attachRuntimeLog(appName, containerID string) {
	s.mu.Lock()
	if s.runtimeLogs == nil {
		s.runtimeLogs = make(map[string]context.CancelFunc)
	}
	if _, attached := s.runtimeLogs[appName]; attached {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.runtimeLogs[appName] = cancel
	s.mu.Unlock()

	go s.streamRuntimeLog(ctx, appName, containerID)
}

// detachRuntimeLog stops the stream attached for appName, if any.
func (s *Supervisor) detachRuntimeLog(appName string) {
	s.mu.Lock()
	cancel, ok := s.runtimeLogs[appName]
	if ok {
		delete(s.runtimeLogs, appName)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// hasRuntimeLog reports whether a stream is currently attached for appName,
// used by the watchdog to decide whether one needs to be reattached.
func (s *Supervisor) hasRuntimeLog(appName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runtimeLogs[appName]
	return ok
}

// streamRuntimeLog copies a container's following log stream to the
// app's runtime log writer until the stream ends or ctx is cancelled, then
// removes itself from the attached set so the watchdog notices and
// reattaches on its next tick.
func (s *Supervisor) streamRuntimeLog(ctx context.Context, appName, containerID string) {
	defer s.detachRuntimeLog(appName)

	reader, err := s.rt.StreamContainerLogs(ctx, containerID, s.clk.Now())
	if err != nil {
		s.log.Warn("runtime log attach failed", "app", appName, "error", err)
		return
	}
	defer reader.Close()

	w := newRuntimeLogWriter(s.cfg.LogDir, appName)
	defer w.Close()

	if _, err := stdcopy.StdCopy(w, w, reader); err != nil && ctx.Err() == nil {
		s.log.Warn("runtime log stream ended", "app", appName, "error", err)
	}
}

// runtimeLogWriter appends to logs/<app>/runtime/<YYYY-MM-DD>.log,
// reopening the file whenever the calendar day changes and pruning
// files older than runtimeLogMaxAge at that point, mirroring
// rotateBuildLogs' boundary-triggered cleanup rather than polling on a
// timer of its own.
type runtimeLogWriter struct {
	logDir string
	app    string

	mu   sync.Mutex
	day  string
	file *os.File
}

func newRuntimeLogWriter(logDir, app string) *runtimeLogWriter {
	return &runtimeLogWriter{logDir: logDir, app: app}
}

func (w *runtimeLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	day := now.Format("2006-01-02")
	if w.file == nil || day != w.day {
		if err := w.rotate(day, now); err != nil {
			return 0, err
		}
	}
	return w.file.Write(p)
}

func (w *runtimeLogWriter) rotate(day string, now time.Time) error {
	if w.file != nil {
		w.file.Close()
		_ = pruneRuntimeLogs(w.logDir, w.app, now)
	}
	dir := filepath.Join(w.logDir, w.app, "runtime")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create runtime log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, day+".log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open runtime log: %w", err)
	}
	w.file = f
	w.day = day
	return nil
}

func (w *runtimeLogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}
