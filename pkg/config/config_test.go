package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONDUCTOR_PIPELINE_ID", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("CONDUCTOR_AUDIT_DIR", "")
	t.Setenv("CONDUCTOR_STATE_DIR", "")
	t.Setenv("CONDUCTOR_RANDOM_SEED", "")
	t.Setenv("CONDUCTOR_TELEMETRY", "")

	cfg := Load()
	assert.Equal(t, "default", cfg.PipelineID)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "./audit_logs", cfg.AuditDir)
	assert.Equal(t, "./state_snapshots", cfg.StateDir)
	assert.Equal(t, int64(0), cfg.RandomSeed)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CONDUCTOR_PIPELINE_ID", "nightly")
	t.Setenv("CONDUCTOR_RANDOM_SEED", "12345")
	t.Setenv("CONDUCTOR_TELEMETRY", "true")
	t.Setenv("OTLP_ENDPOINT", "collector:4317")

	cfg := Load()
	assert.Equal(t, "nightly", cfg.PipelineID)
	assert.Equal(t, int64(12345), cfg.RandomSeed)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector:4317", cfg.Telemetry.Endpoint)
}

func TestLoadFileOverlay(t *testing.T) {
	t.Setenv("CONDUCTOR_PIPELINE_ID", "from-env")
	t.Setenv("CONDUCTOR_AUDIT_DIR", "/env/audit")

	path := filepath.Join(t.TempDir(), "conductor.yaml")
	profile := `
pipeline_id: from-file
random_seed: 42
review_sla:
  response_hours: 2
  resolution_hours: 12
  escalation_hours: 4
`
	require.NoError(t, os.WriteFile(path, []byte(profile), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.PipelineID)
	assert.Equal(t, "/env/audit", cfg.AuditDir)
	assert.Equal(t, int64(42), cfg.RandomSeed)
	assert.InDelta(t, 12.0, cfg.Review.ResolutionHours, 1e-9)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
