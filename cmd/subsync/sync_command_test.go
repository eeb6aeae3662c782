package main

import (
	"path/filepath"
	"testing"

	"subsync/internal/testsupport"
)

func TestSyncDryRunRecordsNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	configPath := filepath.Join(testsupport.BaseDir(cfg), "subsync.toml")
	writeTestConfig(t, configPath, cfg)
	env := &cliTestEnv{cfg: cfg, configPath: configPath}

	out, _, err := runCLI(t, env.configPath, "sync", "--dry-run")
	if err != nil {
		t.Fatalf("sync --dry-run: %v", err)
	}
	requireContains(t, out, "Dry run: nothing was downloaded or recorded")

	out, _, err = runCLI(t, env.configPath, "downloads", "runs")
	if err != nil {
		t.Fatalf("downloads runs: %v", err)
	}
	requireContains(t, out, "No download runs recorded")
}

func TestSyncRejectsUnknownSource(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, env.configPath, "sync", "nope", "--dry-run"); err == nil {
		t.Fatal("expected unknown source error")
	}
}
