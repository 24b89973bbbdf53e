// Package selfupdate implements the `update` Control API action: spawning
// a fresh instance of the odac binary alongside the running one and handing
// off ownership once it is up, rather than replacing a container image the
// way the teacher's engine.SelfUpdater does (odac manages the host's DNS
// resolver directly and is not assumed to run inside the container runtime
// it supervises).
package selfupdate

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/google/uuid"

	"github.com/odac-run/odac/internal/logging"
)

// Updater spawns a new odac instance with a fresh ODAC_INSTANCE_ID, passing
// the current instance's ID along as ODAC_PREVIOUS_INSTANCE_ID so the new
// instance's Proxy Sync data-plane supervisor can adopt the running proxy
// process instead of starting a second one.
type Updater struct {
	binaryPath string
	instanceID string
	log        *logging.Logger
}

// New creates an Updater for the currently running instance.
func New(binaryPath, instanceID string, log *logging.Logger) *Updater {
	return &Updater{binaryPath: binaryPath, instanceID: instanceID, log: log}
}

// TriggerUpdate spawns a new instance in declared update mode and returns
// once it has been started; it does not wait for the new instance to finish
// booting; the new instance's own Proxy Sync adoption logic and the
// operator's process supervisor (systemd, etc.) own the rest of the
// handoff.
func (u *Updater) TriggerUpdate(ctx context.Context) error {
	newID := uuid.NewString()
	env := buildUpdateEnv(os.Environ(), newID, u.instanceID)

	cmd := exec.CommandContext(context.Background(), u.binaryPath)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("selfupdate: spawn new instance: %w", err)
	}
	u.log.Info("selfupdate: new instance spawned", "pid", cmd.Process.Pid, "new_instance_id", newID, "previous_instance_id", u.instanceID)
	return cmd.Process.Release()
}

// buildUpdateEnv returns base with ODAC_INSTANCE_ID, ODAC_PREVIOUS_INSTANCE_ID,
// and ODAC_UPDATE_MODE set for the new instance, replacing any prior value
// for those keys rather than appending a duplicate.
func buildUpdateEnv(base []string, newInstanceID, previousInstanceID string) []string {
	drop := map[string]bool{
		"ODAC_INSTANCE_ID=":          true,
		"ODAC_PREVIOUS_INSTANCE_ID=": true,
		"ODAC_UPDATE_MODE=":          true,
	}
	env := make([]string, 0, len(base)+3)
	for _, kv := range base {
		skip := false
		for prefix := range drop {
			if hasPrefix(kv, prefix) {
				skip = true
				break
			}
		}
		if !skip {
			env = append(env, kv)
		}
	}
	env = append(env,
		"ODAC_INSTANCE_ID="+newInstanceID,
		"ODAC_PREVIOUS_INSTANCE_ID="+previousInstanceID,
		"ODAC_UPDATE_MODE=true",
	)
	return env
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
