package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// copyScenarios copies testdata/scenarios into a temp dir so golden files
// can be written.
func copyScenarios(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	data, err := os.ReadFile(filepath.Join("testdata", "scenarios", "users_basic.yaml"))
	require.NoError(t, err)
	writeFile(t, dir, "users_basic.yaml", string(data))
	return dir
}

func TestTestCommand_GoldenLifecycle(t *testing.T) {
	dir := copyScenarios(t)

	out, err := execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "\u2713 users_basic (no golden file)")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")

	out, err = execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "\u2713 users_basic (golden updated)")
	golden := filepath.Join(dir, "golden", "users_basic.golden")
	require.FileExists(t, golden)

	out, err = execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "\u2713 users_basic\n")

	require.NoError(t, os.WriteFile(golden, []byte(`{"scenario":"users_basic","trace":[]}`), 0o644))
	out, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "\u2717 users_basic")
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "wrong.yaml", `
name: wrong
description: expects the wrong count
schema:
  version: 1
  tables:
    - name: users
      columns:
        - {name: name, type: string}
steps:
  - op: count
    table: users
    expect: {count: 3}
`)

	out, err := execute(t, "test", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "TEST_FAILED", resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Contains(t, resp.Data.Scenarios[0].Errors[0], "count: expected 3, got 0")
}

func TestTestCommand_InvalidScenarioFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: broken\n")

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "\u2717 broken.yaml")
	assert.Contains(t, out, "invalid scenario")
}

func TestTestCommand_Filter(t *testing.T) {
	dir := copyScenarios(t)
	writeFile(t, dir, "other.yaml", "name: other\n")

	out, err := execute(t, "test", dir, "--filter", "users_*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	_, err = execute(t, "test", dir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_NoScenarios(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_MissingDirectory(t *testing.T) {
	out, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "scenarios directory not found")
}

func TestFindScenarioFiles_SkipsGolden(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.yaml", "")
	writeFile(t, dir, "a.yml", "")
	writeFile(t, dir, "nested/c.yaml", "")
	writeFile(t, dir, "golden/stale.yaml", "")
	writeFile(t, dir, "README.md", "")

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested", "c.yaml"),
	}, files)
}
