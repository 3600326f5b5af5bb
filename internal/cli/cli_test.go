package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-sync/internal/domain"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env"), "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

type syncOutput struct {
	Skipped     bool      `json:"skipped"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	TotalItems  int       `json:"totalItems"`
	TotalPages  int       `json:"totalPages"`
}

func TestSyncCommand_Memory(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "source:\n  stub_count: 10\n")

	out, err := run(t, "sync", "--config", cfg)
	require.NoError(t, err)

	var result syncOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Skipped)
	assert.Equal(t, 10, result.TotalItems)
	assert.Equal(t, 1, result.TotalPages)
	assert.True(t, result.WindowStart.Equal(domain.Epoch))
}

func TestSyncCommand_SQLitePersistsWatermark(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, `
backend: sqlite
sqlite:
  path: `+filepath.Join(dir, "ledger.db")+`
source:
  stub_count: 10
`)

	out, err := run(t, "sync", "--config", cfg)
	require.NoError(t, err)
	var first syncOutput
	require.NoError(t, json.Unmarshal([]byte(out), &first))

	out, err = run(t, "sync", "--config", cfg)
	require.NoError(t, err)
	var second syncOutput
	require.NoError(t, json.Unmarshal([]byte(out), &second))

	assert.True(t, second.WindowStart.Equal(first.WindowEnd), "second run starts at the stored watermark")

	out, err = run(t, "jobs", "failed", "--config", cfg)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestBalanceCommand_UnknownUser(t *testing.T) {
	out, err := run(t, "balance", "074092")
	require.NoError(t, err)

	var balance domain.AggregatedBalance
	require.NoError(t, json.Unmarshal([]byte(out), &balance))
	assert.Equal(t, "074092", balance.UserID)
	assert.True(t, balance.Balance.IsZero())
}

func TestBalanceCommand_RequiresUser(t *testing.T) {
	_, err := run(t, "balance")
	assert.Error(t, err)
}

func TestPayoutsCommand_Empty(t *testing.T) {
	out, err := run(t, "payouts")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestInvalidBackend(t *testing.T) {
	_, err := run(t, "payouts", "--backend", "oracle")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestMigrateCommand_SQLite(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "migrate", "--backend", "sqlite", "--config", writeConfig(t, dir, "sqlite:\n  path: "+filepath.Join(dir, "m.db")+"\n"))
	require.NoError(t, err)
	assert.Contains(t, out, "migrated 1 backend(s)")
	assert.FileExists(t, filepath.Join(dir, "m.db"))
}
