package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/passvault/internal/harness"
)

const harnessScenarios = "../harness/testdata/scenarios"

func runTestCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// copyScenario copies a harness scenario into dir/scenarios.
func copyScenario(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(harnessScenarios, name+".yaml"))
	require.NoError(t, err)
	scenarios := filepath.Join(dir, "scenarios")
	require.NoError(t, os.MkdirAll(scenarios, 0o755))
	path := filepath.Join(scenarios, name+".yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCmd(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestTestCommandNonExistentPath(t *testing.T) {
	_, err := runTestCmd(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario path not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := runTestCmd(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")

	out, err = runTestCmd(t, "json", t.TempDir())
	require.NoError(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestTestCommandHarnessScenarios(t *testing.T) {
	out, err := runTestCmd(t, "text", harnessScenarios)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ replay_and_commit_expiry")
	assert.Contains(t, out, "✓ device_rotation")
	assert.Contains(t, out, "✓ All scenarios passed")
	assert.Contains(t, out, "4 passed, 0 failed, 4 total")
}

func TestTestCommandFilter(t *testing.T) {
	out, err := runTestCmd(t, "json", harnessScenarios, "--filter", "replay*")
	require.NoError(t, err, out)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "replay_and_commit_expiry", resp.Data.Scenarios[0].Name)
	assert.True(t, resp.Data.Scenarios[0].Pass)
}

func TestTestCommandUpdateWritesGolden(t *testing.T) {
	dir := t.TempDir()
	path := copyScenario(t, dir, "transfer_limit")

	out, err := runTestCmd(t, "text", path, "--update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "golden updated")

	written, err := os.ReadFile(filepath.Join(dir, "golden", "transfer_limit.golden"))
	require.NoError(t, err)

	s, err := harness.LoadScenario(path)
	require.NoError(t, err)
	result, err := harness.Run(s)
	require.NoError(t, err)
	want, err := result.Snapshot().Canonical()
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	out, err = runTestCmd(t, "text", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ transfer_limit")
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	path := copyScenario(t, dir, "device_rotation")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "device_rotation.golden"), []byte(`{"scenario":"stale"}`), 0o644))

	out, err := runTestCmd(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ device_rotation")
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommandFailingAssertion(t *testing.T) {
	dir := t.TempDir()
	scenarios := filepath.Join(dir, "scenarios")
	require.NoError(t, os.MkdirAll(scenarios, 0o755))
	src := `name: wrong_balance
genesis:
  funding:
    payer: 1000
flow:
  - action: fund
    args:
      account: bob
      amount: 5
assertions:
  - type: balance
    account: bob
    equals: 6
`
	require.NoError(t, os.WriteFile(filepath.Join(scenarios, "wrong_balance.yaml"), []byte(src), 0o644))

	out, err := runTestCmd(t, "json", scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 1, resp.Data.Failed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "test_failed", resp.Error.Code)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: [unclosed"), 0o644))

	out, err := runTestCmd(t, "text", path)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "load error")
}
