package proxysync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/odac-run/odac/internal/logging"
)

// proxyProcessName is matched against /proc/<pid>/cmdline on Linux to
// confirm a PID-file hit is really the data-plane binary and not a
// reused PID from an unrelated process.
const proxyProcessName = "odac-proxy"

// DataPlane supervises the separate proxy binary process: it starts it,
// writes a PID file, and on every (re)start first tries to adopt an
// already-running instance rather than spawning a duplicate.
type DataPlane struct {
	BinaryPath string
	PIDPath    string // "~/.odac/run/proxy-<instance>.pid"
	SocketPath string
	Args       []string
	log        *logging.Logger

	// AllowOverwrite skips the O_EXCL guard on the PID file, for a
	// declared update handover where this process intentionally replaces
	// a known-stopped predecessor rather than racing an unrelated one.
	AllowOverwrite bool

	cmd *exec.Cmd
}

// NewDataPlane creates a DataPlane supervisor.
func NewDataPlane(binaryPath, pidPath, socketPath string, args []string, log *logging.Logger) *DataPlane {
	return &DataPlane{BinaryPath: binaryPath, PIDPath: pidPath, SocketPath: socketPath, Args: args, log: log}
}

// Start adopts a live, verified data-plane process if one is already
// running, or spawns a fresh one and claims the PID file.
func (d *DataPlane) Start(ctx context.Context) error {
	if pid, ok := d.adoptExisting(); ok {
		d.log.Info("adopted existing data-plane process", "pid", pid)
		return nil
	}

	cmd := exec.CommandContext(ctx, d.BinaryPath, d.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start data plane: %w", err)
	}
	d.cmd = cmd

	if err := d.writePIDFile(cmd.Process.Pid); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("write pid file: %w", err)
	}
	d.log.Info("started data-plane process", "pid", cmd.Process.Pid, "binary", d.BinaryPath)
	return nil
}

// Stop terminates the process this DataPlane spawned, if any, and removes
// its PID file. It does nothing to a process it only adopted.
func (d *DataPlane) Stop() error {
	if d.cmd == nil || d.cmd.Process == nil {
		return nil
	}
	if err := d.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	_, _ = d.cmd.Process.Wait()
	_ = os.Remove(d.PIDPath)
	return nil
}

// adoptExisting reads the PID file and verifies, in order, that the PID is
// alive, the socket file exists, and (on Linux) /proc/<pid>/cmdline names
// the proxy binary. Any mismatch is treated as a stale or reused PID: the
// file is removed and the caller spawns fresh.
func (d *DataPlane) adoptExisting() (int, bool) {
	data, err := os.ReadFile(d.PIDPath)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		_ = os.Remove(d.PIDPath)
		return 0, false
	}

	if !processAlive(pid) {
		_ = os.Remove(d.PIDPath)
		return 0, false
	}
	if d.SocketPath != "" {
		if _, err := os.Stat(d.SocketPath); err != nil {
			_ = os.Remove(d.PIDPath)
			return 0, false
		}
	}
	if runtime.GOOS == "linux" && !cmdlineMatches(pid, proxyProcessName) {
		_ = os.Remove(d.PIDPath)
		return 0, false
	}
	return pid, true
}

// writePIDFile claims the PID file with O_EXCL so a concurrent
// (re)starter can't race this one into writing a mismatched owner.
func (d *DataPlane) writePIDFile(pid int) error {
	if err := os.MkdirAll(filepath.Dir(d.PIDPath), 0o755); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if d.AllowOverwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(d.PIDPath, flags, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(strconv.Itoa(pid))
	return err
}

// processAlive reports whether pid refers to a live process, using the
// conventional unix probe of sending signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// cmdlineMatches reports whether /proc/<pid>/cmdline contains name. Used
// only on Linux; other platforms skip this check entirely.
func cmdlineMatches(pid int, name string) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		// Can't verify; the liveness + socket checks already passed, so
		// err on the side of trusting the PID file rather than spawning
		// a duplicate listener.
		return true
	}
	return strings.Contains(string(data), name)
}
