package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ogulcanaydogan/qmeter/internal/cli"
	"github.com/ogulcanaydogan/qmeter/pkg/model"
	"github.com/ogulcanaydogan/qmeter/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func run(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli.Run(context.Background(), args, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// isolate points every path at a temp dir and clears source overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("USAGE_STATUS_CACHE_PATH", filepath.Join(dir, "cache.v1.json"))
	t.Setenv("USAGE_STATUS_NOTIFICATION_STATE_PATH", filepath.Join(dir, "notification-state.v1.json"))
	t.Setenv("USAGE_STATUS_SETTINGS_PATH", filepath.Join(dir, "settings.v1.json"))
	t.Setenv("USAGE_STATUS_TRAY_SETTINGS_PATH", "")
	t.Setenv("USAGE_STATUS_CACHE_TTL_SECS", "")
	t.Setenv("USAGE_STATUS_FIXTURE", "")
	t.Setenv("USAGE_STATUS_FIXTURE_FILE", "")
	t.Setenv("USAGE_STATUS_LOG_LEVEL", "")
	return dir
}

func demo(t *testing.T) string {
	t.Helper()
	dir := isolate(t)
	t.Setenv("USAGE_STATUS_FIXTURE", "demo")
	return dir
}

func writeFixture(t *testing.T, dir, body string) {
	t.Helper()
	path := filepath.Join(dir, "fixture.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("USAGE_STATUS_FIXTURE_FILE", path)
}

func TestStatus_DemoTable(t *testing.T) {
	demo(t)

	r := run(t)

	assert.Equal(t, cli.ExitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "PROV")
	assert.Contains(t, r.stdout, "RESET_AT")
	assert.Contains(t, r.stdout, "claude:session")
	assert.Contains(t, r.stdout, "79%")
	assert.Contains(t, r.stdout, "codex:5h")
	assert.Contains(t, r.stdout, "81%")
	assert.Contains(t, r.stdout, "2026-02-24T00:00:00Z")
	assert.Contains(t, r.stdout, "structured/high")
	assert.NotContains(t, r.stdout, "Errors:")
}

func TestStatus_DemoJSON(t *testing.T) {
	demo(t)

	r := run(t, "--json")
	require.Equal(t, cli.ExitOK, r.code, r.stderr)

	var snap model.Snapshot
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &snap))
	require.Len(t, snap.Rows, 4)
	assert.Empty(t, snap.Errors)
	assert.Equal(t, model.SourceClaude, snap.Rows[0].Source)
	assert.Equal(t, model.SourceCodex, snap.Rows[3].Source)
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestStatus_ProviderSelection(t *testing.T) {
	demo(t)

	r := run(t, "--json", "--providers", "codex, codex")
	require.Equal(t, cli.ExitOK, r.code, r.stderr)

	var snap model.Snapshot
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &snap))
	require.Len(t, snap.Rows, 2)
	for _, row := range snap.Rows {
		assert.Equal(t, model.SourceCodex, row.Source)
	}
}

func TestStatus_UsageErrors(t *testing.T) {
	demo(t)

	tests := []struct {
		name   string
		args   []string
		stderr string
	}{
		{"unknown provider", []string{"--providers", "gemini"}, "unknown provider: gemini"},
		{"empty provider list", []string{"--providers", ","}, "at least one of"},
		{"unknown view", []string{"--view", "pie"}, "unknown view: pie"},
		{"unknown flag", []string{"--verbose"}, "unknown flag"},
		{"missing flag value", []string{"--view"}, "needs an argument"},
		{"stray argument", []string{"status"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := run(t, tt.args...)
			assert.Equal(t, cli.ExitUsage, r.code)
			assert.Contains(t, r.stderr, tt.stderr)
			assert.Contains(t, r.stderr, "Usage:")
		})
	}
}

func TestStatus_GraphView(t *testing.T) {
	demo(t)

	r := run(t, "--view", "graph")

	assert.Equal(t, cli.ExitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Usage Snapshot @ ")
	assert.Contains(t, r.stdout, "Claude Session limit")
	assert.Contains(t, r.stdout, "Codex Week limit")
	assert.Contains(t, r.stdout, "█")
	assert.Contains(t, r.stdout, "79% used")
	assert.Contains(t, r.stdout, "Resets ")
	assert.Contains(t, r.stdout, "Source parsed/medium")
	assert.NotContains(t, r.stdout, "\x1b[", "no colour when stdout is not a terminal")
}

func TestStatus_PartialFailure(t *testing.T) {
	dir := isolate(t)
	writeFixture(t, dir, `
claude:
  rows:
    - window: claude:session
      usedPercent: 40
      source: parsed
      confidence: medium
codex:
  errors:
    - type: not-installed
      message: codex not found
      actionable: install codex
`)

	r := run(t)

	assert.Equal(t, cli.ExitPartial, r.code)
	assert.Contains(t, r.stdout, "40%")
	assert.Contains(t, r.stdout, "Errors:")
	assert.Contains(t, r.stdout, "- codex: not-installed: codex not found (next: install codex)")
}

func TestStatus_NoRows(t *testing.T) {
	dir := isolate(t)
	writeFixture(t, dir, `
codex:
  errors:
    - type: auth-required
      message: not logged in
`)

	r := run(t, "--providers", "codex")

	assert.Equal(t, cli.ExitNoRows, r.code)
	assert.Contains(t, r.stdout, "(no rows)")
	assert.Contains(t, r.stdout, "auth-required")
}

func TestStatus_DebugPayloads(t *testing.T) {
	demo(t)

	r := run(t, "--debug", "--providers", "claude")

	assert.Equal(t, cli.ExitOK, r.code)
	assert.Contains(t, r.stderr, "[debug] claude: {")
	assert.Contains(t, r.stderr, `"fixture": true`)
	assert.NotContains(t, r.stderr, "[debug] codex")
}

func TestStatus_EnvFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.Unsetenv("USAGE_STATUS_FIXTURE"))

	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("USAGE_STATUS_FIXTURE=demo\n"), 0o600))

	r := run(t, "--env-file", envFile, "--json")
	t.Cleanup(func() { _ = os.Unsetenv("USAGE_STATUS_FIXTURE") })

	assert.Equal(t, cli.ExitOK, r.code, r.stderr)

	missing := run(t, "--env-file", filepath.Join(dir, "missing.env"))
	assert.Equal(t, cli.ExitPartial, missing.code)
	assert.Contains(t, missing.stderr, "load env file")
}

func TestStatus_InvalidSettingsWarns(t *testing.T) {
	dir := demo(t)
	path := filepath.Join(dir, "settings.v1.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"refreshIntervalMs": 1}`), 0o600))

	r := run(t, "--settings", path)

	assert.Equal(t, cli.ExitOK, r.code)
	assert.Contains(t, r.stderr, "settings ignored")
}

func TestWatch_OncePrintsAndNotifies(t *testing.T) {
	demo(t)

	r := run(t, "watch", "--once", "--print")

	assert.Equal(t, cli.ExitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "codex:5h")
	assert.Contains(t, r.stderr, "WARNING - Codex Session limit")
	assert.Contains(t, r.stderr, "81% used")
}

func TestWatch_OnceExportsMetrics(t *testing.T) {
	dir := demo(t)
	prom := filepath.Join(dir, "textfile", "qmeter.prom")
	settings := filepath.Join(dir, "settings.v1.json")
	require.NoError(t, os.WriteFile(settings, []byte(`{"metrics": {"textfilePath": "`+filepath.ToSlash(prom)+`"}}`), 0o600))

	r := run(t, "watch", "--once", "--settings", settings)
	require.Equal(t, cli.ExitOK, r.code, r.stderr)

	data, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(data), "qmeter_usage_percent")
	assert.Contains(t, string(data), `window="codex:5h"`)
}

func TestWatch_OnceWithEveryProviderHidden(t *testing.T) {
	dir := demo(t)
	settings := filepath.Join(dir, "settings.v1.json")
	body := `{"version":1,"refreshIntervalMs":60000,"visibleProviders":{"claude":false,"codex":false}}`
	require.NoError(t, os.WriteFile(settings, []byte(body), 0o600))

	r := run(t, "watch", "--once", "--print")

	assert.Equal(t, cli.ExitNoRows, r.code, r.stderr)
	assert.Contains(t, r.stdout, "(no rows)")
	assert.NotContains(t, r.stdout, "claude:session")
	assert.NotContains(t, r.stdout, "codex:5h")
	assert.NotContains(t, r.stderr, "provider acquired")
}

func TestWatch_RunStopsOnCancel(t *testing.T) {
	demo(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var stdout, stderr bytes.Buffer
	code := cli.Run(ctx, []string{"watch"}, &stdout, &stderr)

	assert.Equal(t, cli.ExitOK, code, stderr.String())
	assert.Contains(t, stderr.String(), "watching")
	assert.Contains(t, stderr.String(), "stopped")
}

func TestCache_ShowAndClear(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "cache.v1.json")

	fetched := time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)
	c := storage.NewCache()
	c.Put(model.SourceCodex, storage.CacheEntry{FetchedAt: fetched, Rows: []model.Row{{
		Source:      model.SourceCodex,
		Window:      "codex:5h",
		UsedPercent: model.Ptr(12.0),
		Provenance:  model.ProvenanceStructured,
		Confidence:  model.ConfidenceHigh,
	}}})
	require.NoError(t, storage.NewFileCache(path).Save(c, fetched))

	r := run(t, "cache", "show")
	require.Equal(t, cli.ExitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "FETCHED_AT")
	assert.Contains(t, r.stdout, "2026-02-23T12:00:00Z")

	r = run(t, "cache", "show", "--json")
	require.Equal(t, cli.ExitOK, r.code, r.stderr)
	var entries map[string]*storage.CacheEntry
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &entries))
	assert.Nil(t, entries["claude"])
	require.NotNil(t, entries["codex"])
	assert.Len(t, entries["codex"].Rows, 1)

	r = run(t, "cache", "clear")
	require.Equal(t, cli.ExitOK, r.code, r.stderr)
	assert.NoFileExists(t, path)

	r = run(t, "cache", "clear")
	assert.Equal(t, cli.ExitOK, r.code, "clearing a missing cache is not an error")
}

func TestState_ShowAndReset(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "notification-state.v1.json")

	r := run(t, "state", "show")
	require.Equal(t, cli.ExitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "(no state)")

	at := time.Date(2026, 2, 23, 9, 30, 0, 0, time.UTC)
	require.NoError(t, storage.NewFileState(path).Save(map[string]model.NotificationState{
		"codex:codex:5h": {EventKey: "codex:codex:5h", Level: model.LevelWarning, LastNotifiedAt: &at},
	}))

	r = run(t, "state", "show")
	require.Equal(t, cli.ExitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "codex:codex:5h")
	assert.Contains(t, r.stdout, "warning")
	assert.Contains(t, r.stdout, "2026-02-23T09:30:00Z")

	r = run(t, "state", "reset")
	require.Equal(t, cli.ExitOK, r.code, r.stderr)
	assert.NoFileExists(t, path)
}

func TestSettings_InitShowPath(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "settings.v1.json")

	r := run(t, "settings", "path")
	require.Equal(t, cli.ExitOK, r.code)
	assert.Equal(t, path+"\n", r.stdout)

	r = run(t, "settings", "init")
	require.Equal(t, cli.ExitOK, r.code, r.stderr)
	assert.FileExists(t, path)

	r = run(t, "settings", "init")
	assert.Equal(t, cli.ExitPartial, r.code)
	assert.Contains(t, r.stderr, "already exists")

	r = run(t, "settings", "init", "--force")
	assert.Equal(t, cli.ExitOK, r.code, r.stderr)

	r = run(t, "settings", "show")
	require.Equal(t, cli.ExitOK, r.code, r.stderr)
	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &shown))
	assert.Equal(t, 60000.0, shown["refreshIntervalMs"])
}

func TestVersion(t *testing.T) {
	r := run(t, "version")
	assert.Equal(t, cli.ExitOK, r.code)
	assert.Equal(t, "qmeter version dev\n", r.stdout)
}
