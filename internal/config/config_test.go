package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-systems/harness/internal/config"
)

func TestDefaultPolicy(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, 3, cfg.Harness.AutonomyLevel)
	require.Equal(t, config.Duration(5*time.Minute), cfg.Harness.CheckpointInterval)
	require.Equal(t, 3, cfg.Harness.DepthCap)
	require.Equal(t, "inmem", cfg.Engine.Backend)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	doc := `
harness:
  autonomyLevel: 1
  depthCap: 5
  toolBudget:
    maxTotalCalls: 10
  checkpointInterval: 90s
store:
  primary:
    backend: mongo
    dsn: mongodb://localhost:27017
engine:
  backend: temporal
  hostPort: localhost:7233
  namespace: harness-ns
  taskQueue: harness-queue
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Harness.AutonomyLevel)
	require.Equal(t, config.Duration(90*time.Second), cfg.Harness.CheckpointInterval)
	require.Equal(t, 5, cfg.Harness.DepthCap)
	require.Equal(t, 10, cfg.Harness.ToolBudget.MaxTotalCalls)
	require.Equal(t, "mongo", cfg.Store.Primary.Backend)
	require.Equal(t, "mongodb://localhost:27017", cfg.Store.Primary.DSN)
	require.Equal(t, "temporal", cfg.Engine.Backend)
	require.Equal(t, "harness-queue", cfg.Engine.TaskQueue)

	// Fields the override file never mentions keep their defaults.
	require.Equal(t, config.Duration(30*time.Second), cfg.Harness.ToolBudget.CallTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
