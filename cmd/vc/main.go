package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/vc/internal/supervisor"
	"github.com/steveyegge/vc/internal/supervisor/config"
	sqlitestorage "github.com/steveyegge/vc/internal/supervisor/storage/sqlite"
)

var (
	cfg     config.SupervisorConfig
	manager *supervisor.LifecycleManager
)

var rootCmd = &cobra.Command{
	Use:   "vc",
	Short: "Lifecycle supervisor for managed platform resources",
	Long: `vc drives conversations, channel connections, tool invocations, scheduled
jobs, sub-agents, and memory operations through a heartbeat-based health
protocol that detects stuck resources, and provides commands to recover them.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		cfg = loaded

		manager, err = buildManager(cfg)
		if err != nil {
			return fmt.Errorf("initializing lifecycle supervisor: %w", err)
		}
		return nil
	},
}

func buildManager(cfg config.SupervisorConfig) (*supervisor.LifecycleManager, error) {
	log := slog.Default()

	var storage supervisor.LifecycleStorage
	if cfg.StorageBackend == "sqlite" {
		store, err := sqlitestorage.New(expandHome(cfg.StoragePath))
		if err != nil {
			return nil, fmt.Errorf("opening sqlite storage: %w", err)
		}
		storage = store
	}

	registry := supervisor.NewStateRegistry(log)
	plugins := supervisor.NewPluginRegistry()
	health := supervisor.NewHealthMonitor(log)
	recovery := supervisor.NewRecoveryEngine(registry, plugins, log)
	sink := supervisor.NewBroadcastSink(cfg.EventRateLimitPerSec, cfg.EventBurst, log)

	m := supervisor.NewLifecycleManager(supervisor.ManagerConfig{
		Registry: registry,
		Plugins:  plugins,
		Health:   health,
		Recovery: recovery,
		Storage:  storage,
		Sink:     sink,
		Log:      log,
	})

	if storage != nil {
		if _, err := m.RestoreFromStorage(context.Background()); err != nil {
			log.Warn("failed to restore resources from storage", "error", err)
		}
	}

	return m, nil
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return home + path[1:]
		}
	}
	return path
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
