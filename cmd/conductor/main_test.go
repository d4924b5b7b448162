package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"conductor"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func setTestDirs(t *testing.T) string {
	t.Helper()
	auditDir := filepath.Join(t.TempDir(), "audit")
	t.Setenv("CONDUCTOR_AUDIT_DIR", auditDir)
	t.Setenv("CONDUCTOR_STATE_DIR", filepath.Join(t.TempDir(), "state"))
	t.Setenv("CONDUCTOR_RANDOM_SEED", "42")
	return auditDir
}

func TestRunCommandExecutesPipeline(t *testing.T) {
	setTestDirs(t)

	code, stdout, _ := runCLI(t, "run", "--pipeline", "cli-test", "--records", "50", "--json")
	require.Equal(t, 0, code)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, true, result["success"])

	status, ok := result["pipeline_status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, status["audit_chain_valid"])
}

func TestVerifyCommandAfterRun(t *testing.T) {
	auditDir := setTestDirs(t)

	code, _, _ := runCLI(t, "run", "--records", "10")
	require.Equal(t, 0, code)

	code, stdout, _ := runCLI(t, "verify", "--audit-dir", auditDir, "--json")
	require.Equal(t, 0, code)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, true, result["valid"])
	assert.Greater(t, result["entries"], float64(0))
}

func TestVerifyCommandEmptyDir(t *testing.T) {
	code, stdout, _ := runCLI(t, "verify", "--audit-dir", t.TempDir(), "--json")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, `"valid": true`)
}

func TestStatusCommandCountsRuns(t *testing.T) {
	auditDir := setTestDirs(t)

	code, _, _ := runCLI(t, "run", "--records", "5")
	require.Equal(t, 0, code)

	code, stdout, _ := runCLI(t, "status", "--audit-dir", auditDir, "--json")
	require.Equal(t, 0, code)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, float64(1), result["pipeline_runs"])
	assert.Equal(t, float64(1), result["completed_runs"])
	assert.Equal(t, float64(0), result["failed_runs"])
	assert.Equal(t, true, result["chain_valid"])
}

func TestNoArgsPrintsUsage(t *testing.T) {
	code, stdout, _ := runCLI(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stdout, "Usage: conductor")
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "bogus")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Unknown command: bogus")
}
