package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eleven-am/regiflow"
	"github.com/eleven-am/regiflow/internal/xjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--log-level", "error", "--env-file", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "regiflow.yaml", `
data_dir: /srv/regiflow
engine:
  step_timeout: 45s
  conditional_policy: strict
rate_limiter:
  enabled: false
dispatcher:
  idempotency_window: 2m
env:
  SUPABASE_URL: https://from-config.supabase.co
  STRIPE_API_URL: https://api.stripe.com
`)
	envPath := writeFile(t, dir, ".env", "STRIPE_API_URL=https://stripe.local\nSUPABASE_SERVICE_ROLE_KEY=secret\n")

	t.Setenv("REGIFLOW_ADDR", ":7070")
	t.Setenv("SUPABASE_URL", "https://from-process.supabase.co")

	config, err := loadConfig(configPath, envPath, true)
	require.NoError(t, err)

	assert.Equal(t, "/srv/regiflow", config.DataDir)
	assert.Equal(t, 45*time.Second, config.Engine.StepTimeout)
	assert.Equal(t, regiflow.ConditionalStrict, config.Engine.ConditionalPolicy)
	assert.Equal(t, 8, config.Engine.MaxParallelSteps, "unset fields keep their defaults")
	assert.False(t, config.RateLimiter.Enabled)
	assert.Equal(t, 2*time.Minute, config.Dispatcher.IdempotencyWindow)
	assert.Equal(t, ":7070", config.Server.Addr)

	assert.Equal(t, map[string]string{
		"SUPABASE_URL":              "https://from-process.supabase.co",
		"STRIPE_API_URL":            "https://stripe.local",
		"SUPABASE_SERVICE_ROLE_KEY": "secret",
	}, config.Env)
}

func TestLoadConfigEnvFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), ".env")

	config, err := loadConfig("", missing, false)
	require.NoError(t, err)
	assert.Empty(t, config.Env)

	_, err = loadConfig("", missing, true)
	assert.Error(t, err)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), "", false)
	assert.ErrorContains(t, err, "failed to read config")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger("warn", "json", &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"key":"value"`)

	_, err = newLogger("loud", "text", &buf)
	assert.Error(t, err)
	_, err = newLogger("info", "xml", &buf)
	assert.Error(t, err)
}

func TestLockDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	lock, err := lockDataDir(dir)
	require.NoError(t, err)

	_, err = lockDataDir(dir)
	assert.ErrorContains(t, err, "in use by another regiflow process")

	require.NoError(t, lock.Unlock())
	again, err := lockDataDir(dir)
	require.NoError(t, err)
	require.NoError(t, again.Unlock())
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.yaml", `
id: good
nodes:
  - { id: start, type: trigger }
  - id: tag
    type: function
    parameters:
      operations: [{ op: set, field: tagged, value: true }]
connections:
  start: [tag]
`)
	bad := writeFile(t, dir, "bad.json", `{"id": "bad", "nodes": [{"id": "a", "type": "function"}]}`)

	out, err := execute(t, "validate", filepath.Join(dir, "good.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "ok   good")
	assert.Contains(t, out, "2 nodes, 1 edges")

	out, err = execute(t, "validate", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 definition(s) failed validation")
	assert.Contains(t, out, "FAIL bad")

	_, err = execute(t, "validate", bad, filepath.Join(dir, "nope.yaml"))
	assert.ErrorContains(t, err, "2 definition(s) failed validation")
}

func TestRunCommand(t *testing.T) {
	out, err := execute(t, "run", "regiflow-payments",
		"--payload", `{"type": "invoice.payment_failed", "data": {"object": {"customer": "cus_9"}}}`)
	require.NoError(t, err)

	var exec regiflow.Execution
	require.NoError(t, xjson.Unmarshal([]byte(out), &exec))
	assert.Equal(t, regiflow.ExecutionSucceeded, exec.Status)

	suspend, ok := exec.Step("suspend")
	require.True(t, ok)
	assert.Equal(t, "suspend_account", suspend.Output[0]["action"])
	assert.Equal(t, "cus_9", suspend.Output[0]["customer_id"])
}

func TestRunCommandReportsFailure(t *testing.T) {
	out, err := execute(t, "run", "regiflow-payments", "--payload", `{"type": "invoice.payment_failed"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, out, `"status": "failed"`)

	_, err = execute(t, "run", "regiflow-payments", "--payload", `[1, 2]`)
	assert.ErrorContains(t, err, "payload must be a JSON object")
}

func TestSeedCommand(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")

	out, err := execute(t, "--data-dir", dataDir, "seed")
	require.NoError(t, err)

	var report regiflow.SeedReport
	require.NoError(t, xjson.Unmarshal([]byte(out), &report))
	assert.ElementsMatch(t, []string{"regiflow-monitoring", "regiflow-onboarding", "regiflow-payments"}, report.Created)

	out, err = execute(t, "--data-dir", dataDir, "seed")
	require.NoError(t, err)
	report = regiflow.SeedReport{}
	require.NoError(t, xjson.Unmarshal([]byte(out), &report))
	assert.Len(t, report.Unchanged, 3)

	_, err = execute(t, "--data-dir", dataDir, "seed", "--no-embedded")
	assert.ErrorContains(t, err, "nothing to seed")
}
