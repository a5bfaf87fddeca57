package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-msh/internal/config"
	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/runtime"
)

func execCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execCmd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "msh dev")
	assert.Contains(t, out, "commit: none")
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := execCmd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "msh 1.0.0 (commit: abc123, built: 2026-01-01)")
}

func TestRootCmdHasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range newRootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"version", "run", "validate-pmodes", "cleanup"} {
		assert.True(t, names[want], want)
	}
}

func writePModes(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	sending := filepath.Join(dir, "sending")
	receiving := filepath.Join(dir, "receiving")
	require.NoError(t, os.MkdirAll(sending, 0o750))
	require.NoError(t, os.MkdirAll(receiving, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(sending, "a.yaml"), []byte("id: send-a\npushConfiguration:\n  url: https://b.example.org/msh\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(receiving, "a.yaml"), []byte("id: recv-a\n"), 0o600))
	return sending, receiving
}

func TestValidatePModesCmd(t *testing.T) {
	sending, receiving := writePModes(t)

	out, err := execCmd(t, "validate-pmodes", "--sending", sending, "--receiving", receiving)
	require.NoError(t, err)
	assert.Contains(t, out, "send-a")
	assert.Contains(t, out, "recv-a")
	assert.Contains(t, out, "1 sending and 1 receiving P-Modes are valid")

	require.NoError(t, os.WriteFile(filepath.Join(sending, "b.yml"), []byte("id: send-b\n"), 0o600))
	out, err = execCmd(t, "validate-pmodes", "--sending", sending)
	assert.Error(t, err)
	assert.Contains(t, out, "send-b")

	_, err = execCmd(t, "validate-pmodes")
	assert.Error(t, err)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "msh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestCleanupCmd(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
storage:
  dsn: `+filepath.Join(dir, "msh.db")+`
bodyStore:
  in: file://`+filepath.Join(dir, "in")+`
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	ctx := context.Background()
	repo, _, err := runtime.OpenStorage(ctx, cfg)
	require.NoError(t, err)
	old := &entities.InMessage{Status: entities.InDelivered}
	old.Operation = entities.Delivered
	old.InsertionTime = time.Now().UTC().AddDate(0, 0, -120)
	require.NoError(t, repo.Insert(ctx, old))
	fresh := &entities.InMessage{Status: entities.InDelivered}
	fresh.Operation = entities.Delivered
	require.NoError(t, repo.Insert(ctx, fresh))
	require.NoError(t, repo.Close(ctx))

	out, err := execCmd(t, "cleanup", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 records older than 90 days")

	out, err = execCmd(t, "cleanup", "--config", path, "--retention-days", "200")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 0 records")
}

func TestRunCmd_InvalidConfig(t *testing.T) {
	_, err := execCmd(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "load config")

	path := writeConfig(t, "logging: {level: loud}\n")
	_, err = execCmd(t, "run", "--config", path)
	assert.ErrorContains(t, err, "logging.level")
}

func TestNewLogger(t *testing.T) {
	buf := new(bytes.Buffer)
	logger, err := newLogger(buf, config.LoggingConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
