package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsNonPositiveHistoryCaps(t *testing.T) {
	cfg := Default()
	cfg.MaxHistoryPerResource = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBackwardsBackoffBounds(t *testing.T) {
	cfg := Default()
	cfg.RecoveryBackoffInitialMs = 1000
	cfg.RecoveryBackoffMaxMs = 500
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonGrowingBackoffFactor(t *testing.T) {
	cfg := Default()
	cfg.RecoveryBackoffFactor = 1.0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownStorageBackend(t *testing.T) {
	cfg := Default()
	cfg.StorageBackend = "postgres"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveSweepInterval(t *testing.T) {
	cfg := Default()
	cfg.SweepInterval = 0
	require.Error(t, cfg.Validate())
}

func withWorkingDir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(orig) })
}

func TestLoadFallsBackToDefaultsWithNoConfigFile(t *testing.T) {
	withWorkingDir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, Default().StorageBackend, cfg.StorageBackend)
	require.Equal(t, Default().MaxHistoryPerResource, cfg.MaxHistoryPerResource)
}

func TestLoadReadsVcYaml(t *testing.T) {
	dir := t.TempDir()
	withWorkingDir(t, dir)

	yaml := "storage_backend: memory\nmax_history_per_resource: 42\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vc.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.StorageBackend)
	require.Equal(t, 42, cfg.MaxHistoryPerResource)
}

func TestLoadAppliesEnvironmentOverride(t *testing.T) {
	withWorkingDir(t, t.TempDir())

	t.Setenv("VC_SUPERVISOR_STORAGE_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.StorageBackend)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	withWorkingDir(t, dir)

	yaml := "storage_backend: not-a-real-backend\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vc.yaml"), []byte(yaml), 0o644))

	_, err := Load()
	require.Error(t, err)
}

func TestSupervisorConfigString(t *testing.T) {
	s := Default().String()
	require.Contains(t, s, "SupervisorConfig{")
	require.Contains(t, s, "sqlite")
}
