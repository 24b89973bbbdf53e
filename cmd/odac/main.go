package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/odac-run/odac/internal/config"
	"github.com/odac-run/odac/internal/logging"
	"github.com/odac-run/odac/internal/orchestrator"
)

// version and commit are set at build time via ldflags:
//
//	-X main.version=$(VERSION) -X main.commit=$(COMMIT)
var version = "dev"
var commit = "unknown"

func versionString() string {
	if commit != "" && commit != "unknown" {
		return version + " (" + commit + ")"
	}
	return version
}

func main() {
	cfg := config.Load()

	log := logging.New(cfg.LogJSON)
	log.Info("odac starting", "version", versionString(), "instance_id", cfg.InstanceID)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	for _, dir := range []string{cfg.DataDir, cfg.RunDir(), cfg.CertDir(), cfg.LogDir(), cfg.ConfigDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Error("failed to create data directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	orch, err := orchestrator.New(cfg)
	if err != nil {
		log.Error("failed to construct orchestrator", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := orch.Run(ctx); err != nil {
		log.Error("odac exited with error", "error", err)
		os.Exit(1)
	}
}
