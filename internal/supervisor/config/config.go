// Package config loads the lifecycle supervisor's runtime configuration
// from vc.yaml and VC_SUPERVISOR_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HeartbeatDefaults mirrors supervisor.HeartbeatConfig without importing
// the supervisor package, so config stays leaf-level and dependency-free
// in the package graph. It is loaded from vc.yaml, but nothing converts it
// into a supervisor.HeartbeatConfig: the HealthMonitor uses
// DefaultHeartbeatConfig or a ResourceConfig.Heartbeat override.
type HeartbeatDefaults struct {
	IntervalSecs     uint64 `mapstructure:"interval_secs"`
	StuckThreshold   uint32 `mapstructure:"stuck_threshold"`
	DegradedOnMissed uint32 `mapstructure:"degraded_on_missed"`
}

// SupervisorConfig is the full set of tunables for a running lifecycle
// supervisor: heartbeat cadence per resource type, history ring caps,
// recovery backoff, the storage backend, and the control socket path. The
// heartbeat defaults, history caps and recovery backoff fields are loaded
// and validated but not applied; StateRegistry uses its own
// MaxHistoryPerResource/MaxGlobalHistory constants.
type SupervisorConfig struct {
	HeartbeatDefaults map[string]HeartbeatDefaults `mapstructure:"heartbeat_defaults"`

	MaxHistoryPerResource int `mapstructure:"max_history_per_resource"`
	MaxGlobalHistory      int `mapstructure:"max_global_history"`

	RecoveryBackoffInitialMs int     `mapstructure:"recovery_backoff_initial_ms"`
	RecoveryBackoffMaxMs     int     `mapstructure:"recovery_backoff_max_ms"`
	RecoveryBackoffFactor    float64 `mapstructure:"recovery_backoff_factor"`

	StorageBackend string `mapstructure:"storage_backend"`
	StoragePath    string `mapstructure:"storage_path"`

	ControlSocketPath string `mapstructure:"control_socket_path"`

	EventRateLimitPerSec float64 `mapstructure:"event_rate_limit_per_sec"`
	EventBurst           int     `mapstructure:"event_burst"`

	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// Default returns the supervisor's built-in configuration, used when no
// vc.yaml is present and no VC_SUPERVISOR_* overrides are set.
func Default() SupervisorConfig {
	return SupervisorConfig{
		HeartbeatDefaults:        map[string]HeartbeatDefaults{},
		MaxHistoryPerResource:    100,
		MaxGlobalHistory:         10000,
		RecoveryBackoffInitialMs: 500,
		RecoveryBackoffMaxMs:     30000,
		RecoveryBackoffFactor:    2.0,
		StorageBackend:           "sqlite",
		StoragePath:              "~/.vc/lifecycle.db",
		ControlSocketPath:        "/tmp/vc-lifecycle.sock",
		EventRateLimitPerSec:     200,
		EventBurst:               50,
		SweepInterval:            5 * time.Second,
	}
}

// Validate rejects a configuration with nonsensical tunables before it is
// handed to the components that trust it unconditionally.
func (c SupervisorConfig) Validate() error {
	if c.MaxHistoryPerResource <= 0 {
		return fmt.Errorf("max_history_per_resource must be positive (got %d)", c.MaxHistoryPerResource)
	}
	if c.MaxGlobalHistory <= 0 {
		return fmt.Errorf("max_global_history must be positive (got %d)", c.MaxGlobalHistory)
	}
	if c.RecoveryBackoffInitialMs <= 0 || c.RecoveryBackoffMaxMs < c.RecoveryBackoffInitialMs {
		return fmt.Errorf("recovery backoff bounds invalid (initial=%d max=%d)",
			c.RecoveryBackoffInitialMs, c.RecoveryBackoffMaxMs)
	}
	if c.RecoveryBackoffFactor <= 1.0 {
		return fmt.Errorf("recovery_backoff_factor must be greater than 1 (got %f)", c.RecoveryBackoffFactor)
	}
	switch c.StorageBackend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown storage_backend %q (want sqlite or memory)", c.StorageBackend)
	}
	if c.EventRateLimitPerSec <= 0 {
		return fmt.Errorf("event_rate_limit_per_sec must be positive (got %f)", c.EventRateLimitPerSec)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive (got %s)", c.SweepInterval)
	}
	return nil
}

// Load reads vc.yaml (searched in the working directory, $HOME/.vc, and
// /etc/vc) and VC_SUPERVISOR_* environment overrides on top of Default,
// then validates the result.
func Load() (SupervisorConfig, error) {
	v := viper.New()
	v.SetConfigName("vc")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.vc")
	v.AddConfigPath("/etc/vc")

	v.SetEnvPrefix("VC_SUPERVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("max_history_per_resource", def.MaxHistoryPerResource)
	v.SetDefault("max_global_history", def.MaxGlobalHistory)
	v.SetDefault("recovery_backoff_initial_ms", def.RecoveryBackoffInitialMs)
	v.SetDefault("recovery_backoff_max_ms", def.RecoveryBackoffMaxMs)
	v.SetDefault("recovery_backoff_factor", def.RecoveryBackoffFactor)
	v.SetDefault("storage_backend", def.StorageBackend)
	v.SetDefault("storage_path", def.StoragePath)
	v.SetDefault("control_socket_path", def.ControlSocketPath)
	v.SetDefault("event_rate_limit_per_sec", def.EventRateLimitPerSec)
	v.SetDefault("event_burst", def.EventBurst)
	v.SetDefault("sweep_interval", def.SweepInterval)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return SupervisorConfig{}, fmt.Errorf("reading vc.yaml: %w", err)
		}
	}

	var cfg SupervisorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return SupervisorConfig{}, fmt.Errorf("parsing supervisor configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return SupervisorConfig{}, fmt.Errorf("invalid supervisor configuration: %w", err)
	}
	return cfg, nil
}

// String returns a human-readable summary, matching the teacher's
// XConfig.String() convention.
func (c SupervisorConfig) String() string {
	return fmt.Sprintf(
		"SupervisorConfig{storage=%s sweep=%s history=%d/%d backoff=%dms..%dms}",
		c.StorageBackend, c.SweepInterval, c.MaxHistoryPerResource, c.MaxGlobalHistory,
		c.RecoveryBackoffInitialMs, c.RecoveryBackoffMaxMs,
	)
}
