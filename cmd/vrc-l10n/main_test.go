package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawashirov/vrc-localization-checker/gate"
	"github.com/kawashirov/vrc-localization-checker/shutdown"
	"github.com/kawashirov/vrc-localization-checker/store"
)

// isolate runs the test in an empty directory with no user credentials.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	for _, v := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY", "GOOGLE_APPLICATION_CREDENTIALS",
		"VRC_L10N_DEBUG", "VRC_L10N_DB_PATH", "VRC_L10N_LOCALIZATION_FOLDER", "VRC_L10N_MODEL", "OTEL_EXPORTER_OTLP_ENDPOINT"} {
		t.Setenv(v, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestRunUsage(t *testing.T) {
	isolate(t)
	var stderr bytes.Buffer

	assert.Equal(t, exitUsage, run(nil, &stderr))
	assert.Contains(t, stderr.String(), "Usage: vrc-l10n")

	assert.Equal(t, exitUsage, run([]string{"-bogus", "sync"}, &stderr))
	assert.Equal(t, exitOK, run([]string{"-h"}, &stderr))

	stderr.Reset()
	assert.Equal(t, exitOK, run([]string{"-version"}, &stderr))
	assert.Contains(t, stderr.String(), "vrc-l10n dev")
}

func TestRunWithoutConfig(t *testing.T) {
	isolate(t)
	var stderr bytes.Buffer
	assert.Equal(t, exitSetup, run([]string{"sync"}, &stderr))
	assert.Contains(t, stderr.String(), "no config file found")
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.toml"), "db_path = \"l10n.db\"\n")

	var stderr bytes.Buffer
	assert.Equal(t, exitSetup, run([]string{"publish"}, &stderr))
	assert.Contains(t, stderr.String(), "unknown command")
}

func TestRunExportNeedsSpreadsheet(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.toml"), "[llm]\nmodel = \"gpt-4o\"\n")

	var stderr bytes.Buffer
	assert.Equal(t, exitSetup, run([]string{"export"}, &stderr))
	assert.Contains(t, stderr.String(), "export.spreadsheet_id")
}

func TestRunSync(t *testing.T) {
	dir := isolate(t)
	loc := filepath.Join(dir, "Localization")
	writeFile(t, filepath.Join(loc, "UI", "keys.txt"), "greeting\nmirror\n")
	writeFile(t, filepath.Join(loc, "UI", "en.txt"), "Hello\nMirror\n")
	writeFile(t, filepath.Join(loc, "UI", "ru.txt"), "Привет\nЗеркло\n")
	writeFile(t, filepath.Join(dir, "config.yml"), "db_path: data/l10n.db\nlocalization_folder: "+loc+"\nlog_file: logs/run.log\n")

	var stderr bytes.Buffer
	require.Equal(t, exitOK, run([]string{"-config", "config.yml", "sync"}, &stderr), stderr.String())

	logData, err := os.ReadFile(filepath.Join(dir, "logs", "run.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "Stored lines")

	g, err := gate.NewRegistry(shutdown.NewSignal(nil)).Declare(gate.DatabaseConnection, 1)
	require.NoError(t, err)
	st, err := store.Open(filepath.Join(dir, "data", "l10n.db"), g, nil)
	require.NoError(t, err)
	defer st.Close()

	pairs, err := st.PickStrings(context.Background(), store.PickParams{
		SourceLang: "en", TargetLang: "ru", ModelID: "m", MinSuggestions: 1, Limit: 10,
	})
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
}

func TestRunSyncFailureExitCode(t *testing.T) {
	dir := isolate(t)
	loc := filepath.Join(dir, "Localization")
	writeFile(t, filepath.Join(loc, "UI", "keys.txt"), "a\nb\n")
	writeFile(t, filepath.Join(loc, "UI", "ru.txt"), "А\n")
	writeFile(t, filepath.Join(dir, "config.toml"), "localization_folder = \""+filepath.ToSlash(loc)+"\"\n")

	var stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"sync"}, &stderr))
}

func TestRunDatabaseFailureRunsExitHooks(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0755))
	writeFile(t, filepath.Join(dir, "config.toml"), "db_path = \"data\"\nlog_file = \"run.log\"\n")

	var stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"sync"}, &stderr))

	logData, err := os.ReadFile(filepath.Join(dir, "run.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "Root task failed")
	assert.NotContains(t, string(logData), "Setup failed")
}
