package main

import (
	"path/filepath"
	"strings"
	"testing"

	"subsync/internal/testsupport"
)

func seedEvidence(t *testing.T, env *cliTestEnv, id string) {
	t.Helper()
	src := env.cfg.Sources[0]
	testsupport.WriteText(t, src.MediaArchive, "tiktok "+id+"\n")
	testsupport.WriteFile(t, filepath.Join(src.MediaDir, "2024-03-04_"+id+"_clip.mp4"), 64)
	testsupport.WriteText(t, filepath.Join(src.SubsDir, id+".en.vtt"), "WEBVTT")
	testsupport.WriteText(t, filepath.Join(src.MetaDir, id+".info.json"),
		`{"title":"A clip","upload_date":"20240304"}`)
}

func TestLedgerRebuildAndStats(t *testing.T) {
	env := setupCLITestEnv(t)
	seedEvidence(t, env, "1234567890")

	out, _, err := runCLI(t, env.configPath, "ledger", "rebuild")
	if err != nil {
		t.Fatalf("ledger rebuild: %v", err)
	}
	requireContains(t, out, "full pass scanned 1 item(s), updated 1")

	out, _, err = runCLI(t, env.configPath, "ledger", "stats")
	if err != nil {
		t.Fatalf("ledger stats: %v", err)
	}
	requireContains(t, out, "src")
	requireContains(t, out, "Tiktok")
}

func TestLedgerUpdatePicksUpNewEvidence(t *testing.T) {
	env := setupCLITestEnv(t)
	seedEvidence(t, env, "1234567890")

	if _, _, err := runCLI(t, env.configPath, "ledger", "rebuild"); err != nil {
		t.Fatalf("ledger rebuild: %v", err)
	}

	seedEvidence(t, env, "2222222222")
	out, _, err := runCLI(t, env.configPath, "ledger", "update")
	if err != nil {
		t.Fatalf("ledger update: %v", err)
	}
	requireContains(t, out, "incremental pass")
	requireContains(t, out, "updated 1")
}

func TestLedgerExportToStdout(t *testing.T) {
	env := setupCLITestEnv(t)
	seedEvidence(t, env, "1234567890")

	if _, _, err := runCLI(t, env.configPath, "ledger", "rebuild"); err != nil {
		t.Fatalf("ledger rebuild: %v", err)
	}

	out, _, err := runCLI(t, env.configPath, "ledger", "export", "--output", "-")
	if err != nil {
		t.Fatalf("ledger export: %v", err)
	}
	requireContains(t, out, "video_id,source_id,title")
	requireContains(t, out, "1234567890")
}

func TestLedgerRebuildDryRunWritesNothing(t *testing.T) {
	env := setupCLITestEnv(t)
	seedEvidence(t, env, "1234567890")

	out, _, err := runCLI(t, env.configPath, "ledger", "rebuild", "--dry-run")
	if err != nil {
		t.Fatalf("dry run rebuild: %v", err)
	}
	requireContains(t, out, "the ledger was not modified")

	out, _, err = runCLI(t, env.configPath, "ledger", "export", "--output", "-")
	if err != nil {
		t.Fatalf("ledger export: %v", err)
	}
	if strings.Contains(out, "1234567890") {
		t.Fatalf("dry run must not write catalog rows, got %q", out)
	}
}
