package reconcile_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"subsync/internal/config"
	"subsync/internal/ledger"
	"subsync/internal/logging"
	"subsync/internal/reconcile"
	"subsync/internal/testsupport"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	logger, err := logging.New(logging.Options{Level: "error", Format: "json", Writer: os.Stderr})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	return logger
}

func harness(t *testing.T) (*config.Config, config.Source, *ledger.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	return cfg, cfg.Sources[0], store
}

func seedItem(t *testing.T, src config.Source, id string) {
	t.Helper()
	testsupport.WriteText(t, src.MediaArchive, "tiktok "+id+"\n")
	testsupport.WriteFile(t, filepath.Join(src.MediaDir, "2024-03-04_"+id+"_clip.mp4"), 128)
	testsupport.WriteText(t, filepath.Join(src.SubsDir, id+".en.vtt"), "WEBVTT")
	testsupport.WriteText(t, filepath.Join(src.MetaDir, id+".info.json"),
		`{"title":"A clip","upload_date":"20240304","duration":9.5,"view_count":12}`)
}

func TestFullRebuildFromEvidence(t *testing.T) {
	cfg, src, store := harness(t)
	ctx := context.Background()

	seedItem(t, src, "1234567890")
	// An orphan subtitle with no media still earns a catalog row.
	testsupport.WriteText(t, filepath.Join(src.SubsDir, "9999999999.en.vtt"), "WEBVTT")

	reconciler := reconcile.New(cfg, store, testLogger(t))
	summary, err := reconciler.Full(ctx, src)
	if err != nil {
		t.Fatalf("Full: %v", err)
	}
	if summary.Upserted != 2 || summary.Pruned != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	video, err := store.GetVideo(ctx, "1234567890")
	if err != nil {
		t.Fatalf("get video: %v", err)
	}
	if video == nil {
		t.Fatal("expected catalog row")
	}
	if video.Title != "A clip" || video.UploadDate != "2024-03-04" {
		t.Fatalf("metadata not applied: %+v", video)
	}
	if video.MediaPath == "" || video.MediaSize != 128 {
		t.Fatalf("media evidence not applied: %+v", video)
	}
	if video.ViewCount == nil || *video.ViewCount != 12 {
		t.Fatalf("view count not applied: %+v", video)
	}

	subs, err := store.SubtitleStates(ctx, src.ID)
	if err != nil {
		t.Fatalf("subtitle states: %v", err)
	}
	if len(subs["1234567890"]) != 1 || subs["1234567890"][0].Language != "en" {
		t.Fatalf("unexpected subtitles: %+v", subs)
	}

	orphan, err := store.GetVideo(ctx, "9999999999")
	if err != nil {
		t.Fatalf("get orphan: %v", err)
	}
	if orphan == nil || orphan.MediaPath != "" {
		t.Fatalf("orphan subtitle row wrong: %+v", orphan)
	}
}

func TestFullRebuildPrunesVanishedItems(t *testing.T) {
	cfg, src, store := harness(t)
	ctx := context.Background()

	if err := store.UpsertCatalogItem(ctx, ledger.CatalogItem{
		Video: ledger.Video{VideoID: "5555555555", SourceID: src.ID, Title: "gone"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	seedItem(t, src, "1234567890")

	reconciler := reconcile.New(cfg, store, testLogger(t))
	summary, err := reconciler.Full(ctx, src)
	if err != nil {
		t.Fatalf("Full: %v", err)
	}
	if summary.Pruned != 1 {
		t.Fatalf("expected 1 pruned row, got %+v", summary)
	}
	if v, err := store.GetVideo(ctx, "5555555555"); err != nil || v != nil {
		t.Fatalf("expected vanished row pruned, got %+v (err %v)", v, err)
	}
}

func TestFullRebuildDropsArchiveOnlyItems(t *testing.T) {
	cfg, src, store := harness(t)
	ctx := context.Background()

	seedItem(t, src, "1234567890")
	// A second archive entry whose files are all gone, plus the stale
	// catalog row a previous pass left behind.
	testsupport.WriteText(t, src.MediaArchive, "tiktok 1234567890\ntiktok 7777777777\n")
	if err := store.UpsertCatalogItem(ctx, ledger.CatalogItem{
		Video: ledger.Video{VideoID: "7777777777", SourceID: src.ID, Title: "files gone"},
	}); err != nil {
		t.Fatalf("seed stale row: %v", err)
	}

	reconciler := reconcile.New(cfg, store, testLogger(t))
	summary, err := reconciler.Full(ctx, src)
	if err != nil {
		t.Fatalf("Full: %v", err)
	}
	if summary.Scanned != 1 || summary.Upserted != 1 || summary.Pruned != 1 {
		t.Fatalf("archive lines alone must not keep rows alive: %+v", summary)
	}
	if v, err := store.GetVideo(ctx, "7777777777"); err != nil || v != nil {
		t.Fatalf("expected archive-only row pruned, got %+v (err %v)", v, err)
	}
	if v, err := store.GetVideo(ctx, "1234567890"); err != nil || v == nil {
		t.Fatalf("file-backed row must survive, got %+v (err %v)", v, err)
	}
}

func TestFullRebuildPrunesRetryStateOfVanishedItems(t *testing.T) {
	cfg, src, store := harness(t)
	ctx := context.Background()

	seedItem(t, src, "1234567890")
	if err := store.RecordSuccess(ctx, src.ID, ledger.StageMedia, "1234567890", "", "run-1"); err != nil {
		t.Fatalf("record success: %v", err)
	}
	// A failure record for an item nothing local can still prove.
	if err := store.RecordFailure(ctx, src.ID, ledger.StageMedia, "7777777777", "", "run-1", "boom"); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	reconciler := reconcile.New(cfg, store, testLogger(t))
	if _, err := reconciler.Full(ctx, src); err != nil {
		t.Fatalf("Full: %v", err)
	}

	state, err := store.RetryStateFor(ctx, src.ID, ledger.StageMedia, "7777777777")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state != nil {
		t.Fatalf("vanished item's retry record must be pruned, got %+v", state)
	}
	state, err = store.RetryStateFor(ctx, src.ID, ledger.StageMedia, "1234567890")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state == nil || state.RetryCount != 0 {
		t.Fatalf("live item's success history must survive, got %+v", state)
	}
}

func TestIncrementalAddsArchiveOnlyItems(t *testing.T) {
	cfg, src, store := harness(t)
	ctx := context.Background()

	seedItem(t, src, "1234567890")
	reconciler := reconcile.New(cfg, store, testLogger(t))
	if _, err := reconciler.Full(ctx, src); err != nil {
		t.Fatalf("full: %v", err)
	}

	// A fresh archive entry with no files yet still earns a row; only a
	// full rebuild may decide it is gone for good.
	testsupport.WriteText(t, src.MediaArchive, "tiktok 1234567890\ntiktok 2222222222\n")
	summary, err := reconciler.Incremental(ctx, src)
	if err != nil {
		t.Fatalf("Incremental: %v", err)
	}
	if summary.Upserted != 1 {
		t.Fatalf("expected the archived item upserted, got %+v", summary)
	}
	if v, err := store.GetVideo(ctx, "2222222222"); err != nil || v == nil {
		t.Fatalf("archived item missing: %+v (err %v)", v, err)
	}
}

func TestIncrementalOnEmptyCatalogFallsBackToFull(t *testing.T) {
	cfg, src, store := harness(t)
	ctx := context.Background()

	seedItem(t, src, "1234567890")

	reconciler := reconcile.New(cfg, store, testLogger(t))
	summary, err := reconciler.Incremental(ctx, src)
	if err != nil {
		t.Fatalf("Incremental: %v", err)
	}
	if summary.Mode != "full" {
		t.Fatalf("expected full fallback, got %+v", summary)
	}
}

func TestIncrementalPicksUpNewAndChangedEvidence(t *testing.T) {
	cfg, src, store := harness(t)
	ctx := context.Background()

	seedItem(t, src, "1234567890")
	reconciler := reconcile.New(cfg, store, testLogger(t))
	if _, err := reconciler.Full(ctx, src); err != nil {
		t.Fatalf("initial full: %v", err)
	}

	// Nothing changed: the pass touches nothing.
	summary, err := reconciler.Incremental(ctx, src)
	if err != nil {
		t.Fatalf("Incremental: %v", err)
	}
	if summary.Mode != "incremental" || summary.Upserted != 0 {
		t.Fatalf("idempotent pass must update nothing, got %+v", summary)
	}

	// A brand new item and a grown subtitle file both get picked up.
	seedItem(t, src, "2222222222")
	testsupport.WriteText(t, filepath.Join(src.SubsDir, "1234567890.en.vtt"), "WEBVTT\n00:01 bigger file now")

	summary, err = reconciler.Incremental(ctx, src)
	if err != nil {
		t.Fatalf("Incremental: %v", err)
	}
	if summary.Upserted != 2 {
		t.Fatalf("expected 2 updates, got %+v", summary)
	}

	video, err := store.GetVideo(ctx, "2222222222")
	if err != nil || video == nil {
		t.Fatalf("new item missing: %+v (err %v)", video, err)
	}
	subs, err := store.SubtitleStates(ctx, src.ID)
	if err != nil {
		t.Fatalf("subtitle states: %v", err)
	}
	var size int64
	for _, sub := range subs["1234567890"] {
		size = sub.Size
	}
	if size == 0 || size < 10 {
		t.Fatalf("changed subtitle size not refreshed: %+v", subs["1234567890"])
	}
}

func TestIncrementalNeverDeletes(t *testing.T) {
	cfg, src, store := harness(t)
	ctx := context.Background()

	seedItem(t, src, "1234567890")
	reconciler := reconcile.New(cfg, store, testLogger(t))
	if _, err := reconciler.Full(ctx, src); err != nil {
		t.Fatalf("full: %v", err)
	}

	// The media file vanishes; incremental must keep the row anyway.
	if err := os.Remove(filepath.Join(src.MediaDir, "2024-03-04_1234567890_clip.mp4")); err != nil {
		t.Fatalf("remove media: %v", err)
	}
	if _, err := reconciler.Incremental(ctx, src); err != nil {
		t.Fatalf("Incremental: %v", err)
	}
	video, err := store.GetVideo(ctx, "1234567890")
	if err != nil || video == nil {
		t.Fatalf("incremental must never delete rows, got %+v (err %v)", video, err)
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	cfg, src, store := harness(t)
	ctx := context.Background()

	seedItem(t, src, "1234567890")
	reconciler := reconcile.New(cfg, store, testLogger(t), reconcile.WithDryRun(true))
	summary, err := reconciler.Full(ctx, src)
	if err != nil {
		t.Fatalf("Full dry run: %v", err)
	}
	if summary.Upserted != 1 {
		t.Fatalf("dry run must still count, got %+v", summary)
	}
	ids, err := store.CatalogVideoIDs(ctx, src.ID)
	if err != nil {
		t.Fatalf("catalog ids: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("dry run must not write, got %v", ids)
	}
}
