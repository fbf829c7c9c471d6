package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilumeobrasil/desk-research/pkg/types"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "reports", cfg.OutputDir)
	assert.Equal(t, ".desk-research/runs", cfg.StateDir)
	assert.Equal(t, 10*time.Minute, cfg.ModuleTimeout.Std())
	assert.False(t, cfg.FailClosed)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
topic: plant-based packaging
modules: [web, academic]
params:
  max_web_results: 10
output_dir: out
module_timeout: 5m
fail_closed: true
gcp:
  project: my-project
  use_firestore: true
  progress_topic: research-progress
sources:
  endpoints:
    web: https://sources.internal/web
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "plant-based packaging", cfg.Topic)
	assert.Equal(t, []types.ModuleID{types.ModuleWeb, types.ModuleAcademic}, cfg.SelectedModules())
	assert.Equal(t, 10, cfg.Params["max_web_results"])
	assert.Equal(t, "out", cfg.OutputDir)
	assert.Equal(t, 5*time.Minute, cfg.ModuleTimeout.Std())
	assert.True(t, cfg.FailClosed)
	assert.Equal(t, "my-project", cfg.GCP.Project)
	assert.True(t, cfg.GCP.UseFirestore)
	assert.Equal(t, "https://sources.internal/web", cfg.Endpoints()[types.ModuleWeb])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("topic: [unclosed"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestDurationForms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("module_timeout: 90\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.ModuleTimeout.Std(), "bare numbers are seconds")

	require.NoError(t, os.WriteFile(path, []byte("module_timeout: nonsense\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DESK_RESEARCH_API_KEY", "secret-from-env")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "env-project")
	t.Setenv("DESK_RESEARCH_OUTPUT_DIR", "/tmp/out")
	t.Setenv("DESK_RESEARCH_STATE_DIR", "/tmp/state")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "secret-from-env", cfg.Sources.APIKey)
	assert.Equal(t, "env-project", cfg.GCP.Project)
	assert.Equal(t, "/tmp/out", cfg.OutputDir)
	assert.Equal(t, "/tmp/state", cfg.StateDir)
}

func TestEnvAPIKeyWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources:\n  api_key: from-file\n"), 0o644))
	t.Setenv("DESK_RESEARCH_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Sources.APIKey)
}
