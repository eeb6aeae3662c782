package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"subsync/internal/config"
	"subsync/internal/ledger"
	"subsync/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "subsync.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

// writeTestConfig emits the minimal TOML that resolves to the same layout
// testsupport.NewConfig produced, so tests can mix CLI calls with direct
// store access.
func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "state_dir = %q\n", cfg.StateDir)
	fmt.Fprintf(&b, "ledger_db = %q\n", cfg.LedgerDB)
	fmt.Fprintf(&b, "ledger_csv = %q\n", cfg.LedgerCSV)
	fmt.Fprintf(&b, "base_data_dir = %q\n", cfg.BaseDataDir)
	for _, src := range cfg.Sources {
		fmt.Fprintf(&b, "\n[[source]]\nid = %q\nurl = %q\ndata_dir = %q\nplaylist_end = %d\n",
			src.ID, src.URL, src.DataDir, src.PlaylistEnd)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--log-level", "error"}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func seedCatalogVideo(t *testing.T, env *cliTestEnv, id, title string) {
	t.Helper()
	store := testsupport.MustOpenStore(t, env.cfg)
	src := env.cfg.Sources[0]
	if err := store.UpsertSource(t.Context(), src.ID, src.Platform, src.URL, src.Handle); err != nil {
		t.Fatalf("upsert source: %v", err)
	}
	if err := store.UpsertCatalogItem(t.Context(), ledger.CatalogItem{
		Video: ledger.Video{VideoID: id, SourceID: src.ID, Title: title},
	}); err != nil {
		t.Fatalf("seed video: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
