package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
coordinator: 10.0.0.1:7400
nodes:
  - 10.0.0.2:7401
  - 10.0.0.3:7401
metrics: ":9090"
log_level: debug
log_json: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1:7400", cfg.Coordinator)
	assert.Equal(t, []string{"10.0.0.2:7401", "10.0.0.3:7401"}, cfg.Nodes)
	assert.Equal(t, ":9090", cfg.Metrics)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
}

func TestLoadRejectsEmptyNodes(t *testing.T) {
	path := writeConfig(t, "coordinator: 10.0.0.1:7400\n")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrNoNodes)
}

func TestLoadRejectsMissingCoordinator(t *testing.T) {
	path := writeConfig(t, `
coordinator: ""
nodes:
  - 10.0.0.2:7401
`)

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrNoCoordinator)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
