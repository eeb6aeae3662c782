package main

import (
	"testing"

	"subsync/internal/ledger"
	"subsync/internal/testsupport"
)

func TestDownloadsRunsShowsRecentRuns(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenStore(t, env.cfg)
	ctx := t.Context()
	src := env.cfg.Sources[0]

	if err := store.UpsertSource(ctx, src.ID, src.Platform, src.URL, src.Handle); err != nil {
		t.Fatalf("upsert source: %v", err)
	}
	runID, err := store.BeginRun(ctx, src.ID, ledger.StageMedia, "yt-dlp --batch-file urls.txt", 3)
	if err != nil {
		t.Fatalf("begin run: %v", err)
	}
	if err := store.FinishRun(ctx, runID, 0, "", 2, 1); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	out, _, err := runCLI(t, env.configPath, "downloads", "runs")
	if err != nil {
		t.Fatalf("downloads runs: %v", err)
	}
	requireContains(t, out, "media")
	requireContains(t, out, "src")
}

func TestDownloadsRunsEmptyLedger(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.configPath, "downloads", "runs")
	if err != nil {
		t.Fatalf("downloads runs: %v", err)
	}
	requireContains(t, out, "No download runs recorded")
}

func TestDownloadsRetriesShowsPendingItems(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenStore(t, env.cfg)
	ctx := t.Context()
	src := env.cfg.Sources[0]

	if err := store.UpsertSource(ctx, src.ID, src.Platform, src.URL, src.Handle); err != nil {
		t.Fatalf("upsert source: %v", err)
	}
	if err := store.RecordFailure(ctx, src.ID, ledger.StageSubtitles, "1234567890", "", "", "timed out"); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	out, _, err := runCLI(t, env.configPath, "downloads", "retries")
	if err != nil {
		t.Fatalf("downloads retries: %v", err)
	}
	requireContains(t, out, "1234567890")
	requireContains(t, out, "timed out")

	out, _, err = runCLI(t, env.configPath, "downloads", "retries", "other")
	if err != nil {
		t.Fatalf("downloads retries other: %v", err)
	}
	requireContains(t, out, "No pending retries")
}
