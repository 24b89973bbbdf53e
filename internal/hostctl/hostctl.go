// Package hostctl isolates every privileged, host-mutating operation
// behind a narrow interface: rewriting and restoring the system DNS
// resolver when the DNS Authority claims port 53. Every exec.Command call
// is built from an argv slice, never a formatted shell string.
package hostctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

const (
	defaultResolvConfPath   = "/etc/resolv.conf"
	defaultResolvConfBackup = "/etc/resolv.conf.odac-bak"
	systemctlTimeout        = 3 * time.Second
)

// Controller performs privileged host operations needed by the DNS
// Authority when it takes over port 53 from the system resolver.
type Controller interface {
	// RewriteResolver points the host's stub resolver at a public
	// recursive nameserver and backs up the original file so it can be
	// restored on clean shutdown.
	RewriteResolver(ctx context.Context, nameserver string) error
	// RestoreResolver restores the resolver config saved by RewriteResolver,
	// if a backup exists.
	RestoreResolver(ctx context.Context) error
	// ReloadSystemdResolved attempts to free port 53 by disabling
	// systemd-resolved's stub listener and restarting the service. Returns
	// an error (not a panic) if systemctl is unavailable — callers fall
	// back to the alternate DNS ports.
	ReloadSystemdResolved(ctx context.Context) error
}

// Host is the production Controller, shelling out to the system resolver
// configuration and systemctl. ResolvConfPath/ResolvConfBackup default to
// the real system paths and are only overridden in tests.
type Host struct {
	ResolvConfPath   string
	ResolvConfBackup string
}

// NewHost returns a Host configured against the real system resolver paths.
func NewHost() Host {
	return Host{ResolvConfPath: defaultResolvConfPath, ResolvConfBackup: defaultResolvConfBackup}
}

var _ Controller = Host{}

// RewriteResolver copies the existing resolv.conf to a backup path (unless
// one already exists, in case of a prior unclean shutdown) and replaces it
// with a single nameserver line.
func (h Host) RewriteResolver(ctx context.Context, nameserver string) error {
	if nameserver == "" {
		return errors.New("nameserver must not be empty")
	}
	if _, err := os.Stat(h.ResolvConfBackup); errors.Is(err, os.ErrNotExist) {
		existing, readErr := os.ReadFile(h.ResolvConfPath)
		if readErr == nil {
			if err := os.WriteFile(h.ResolvConfBackup, existing, 0o644); err != nil {
				return fmt.Errorf("backup resolv.conf: %w", err)
			}
		}
	}

	content := fmt.Sprintf("# managed by odac while DNS Authority holds port 53\nnameserver %s\n", nameserver)
	if err := os.WriteFile(h.ResolvConfPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("rewrite resolv.conf: %w", err)
	}
	_ = ctx
	return nil
}

// RestoreResolver writes the backed-up resolv.conf back into place and
// removes the backup, so a second restore is a no-op.
func (h Host) RestoreResolver(ctx context.Context) error {
	data, err := os.ReadFile(h.ResolvConfBackup)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read resolv.conf backup: %w", err)
	}
	if err := os.WriteFile(h.ResolvConfPath, data, 0o644); err != nil {
		return fmt.Errorf("restore resolv.conf: %w", err)
	}
	_ = os.Remove(h.ResolvConfBackup)
	_ = ctx
	return nil
}

// ReloadSystemdResolved disables systemd-resolved's DNSStubListener and
// restarts the unit so port 53 becomes free for the DNS Authority.
func (Host) ReloadSystemdResolved(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, systemctlTimeout)
	defer cancel()

	drop := "/etc/systemd/resolved.conf.d/odac-disable-stub.conf"
	if err := os.MkdirAll("/etc/systemd/resolved.conf.d", 0o755); err != nil {
		return fmt.Errorf("create resolved drop-in dir: %w", err)
	}
	if err := os.WriteFile(drop, []byte("[Resolve]\nDNSStubListener=no\n"), 0o644); err != nil {
		return fmt.Errorf("write resolved drop-in: %w", err)
	}

	cmd := exec.CommandContext(ctx, "systemctl", "restart", "systemd-resolved")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl restart systemd-resolved: %w: %s", err, out)
	}
	return nil
}
