package library_test

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"subsync/internal/library"
)

var idPattern = regexp.MustCompile(`_(\d{10,})_`)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestScanMediaPrefersLargestFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "2024-01-01_1234567890_clip.mp4"), "tiny")
	writeFile(t, filepath.Join(dir, "2024-01-01_1234567890_clip.webm"), "much larger payload")
	writeFile(t, filepath.Join(dir, "notes.txt"), "no id here")

	media := library.ScanMedia(dir, idPattern)
	if len(media) != 1 {
		t.Fatalf("expected one item, got %v", media)
	}
	if got := media["1234567890"]; filepath.Base(got) != "2024-01-01_1234567890_clip.webm" {
		t.Fatalf("expected largest file, got %q", got)
	}
}

func TestExtractMediaIDFallback(t *testing.T) {
	if got := library.ExtractMediaID("video-9876543210123.mp4", idPattern); got != "9876543210123" {
		t.Fatalf("expected fallback digit-run match, got %q", got)
	}
	if got := library.ExtractMediaID("short-99.mp4", idPattern); got != "" {
		t.Fatalf("expected no match for short ids, got %q", got)
	}
}

func TestScanSubtitlesParsesLanguages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "1234567890.en.vtt"), "WEBVTT")
	writeFile(t, filepath.Join(dir, "1234567890.en-US.srt"), "1")
	writeFile(t, filepath.Join(dir, "1234567890.vtt"), "WEBVTT")
	writeFile(t, filepath.Join(dir, "readme.en.vtt"), "not an id")

	subs := library.ScanSubtitles(dir)
	files := subs["1234567890"]
	if len(files) != 3 {
		t.Fatalf("expected 3 subtitle files, got %d (%v)", len(files), files)
	}
	langs := make(map[string]bool)
	for _, f := range files {
		langs[f.Language] = true
	}
	if !langs["en"] || !langs["en-US"] || !langs[""] {
		t.Fatalf("unexpected languages: %v", langs)
	}
	if len(subs) != 1 {
		t.Fatalf("non-numeric prefixes must be ignored: %v", subs)
	}
}

func TestScanSubtitlesFor(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "1234567890.en.vtt"), "WEBVTT")
	writeFile(t, filepath.Join(dir, "9999999999.en.vtt"), "WEBVTT")

	files := library.ScanSubtitlesFor(dir, "1234567890")
	if len(files) != 1 || files[0].Language != "en" || files[0].Ext != "vtt" {
		t.Fatalf("unexpected result: %v", files)
	}
}

func TestFindMediaFilePrefersLargest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a_1234567890_x.mp4"), "s")
	writeFile(t, filepath.Join(dir, "b_1234567890_x.mp4"), "larger content")

	got := library.FindMediaFile(dir, "1234567890")
	if filepath.Base(got) != "b_1234567890_x.mp4" {
		t.Fatalf("expected largest candidate, got %q", got)
	}
	if library.FindMediaFile(dir, "0000000000") != "" {
		t.Fatal("expected empty result for unknown id")
	}
}

func TestMetaRecords(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "1234567890.info.json"), `{
		"title": "A clip",
		"upload_date": "20240102",
		"duration": 12.5,
		"view_count": "310",
		"like_count": 25
	}`)
	writeFile(t, filepath.Join(dir, "broken.info.json"), `{not json`)
	writeFile(t, filepath.Join(dir, "1234567890.description"), "sidecar text\n")

	records := library.LoadMetaRecords(dir)
	if len(records) != 1 {
		t.Fatalf("expected broken sidecar skipped, got %d records", len(records))
	}
	record := records["1234567890"]
	if record.String("title") != "A clip" {
		t.Fatalf("unexpected title: %q", record.String("title"))
	}
	if record.UploadDate() != "2024-01-02" {
		t.Fatalf("unexpected upload date: %q", record.UploadDate())
	}
	if v := record.Int("view_count"); v == nil || *v != 310 {
		t.Fatalf("expected coerced view_count 310, got %v", v)
	}
	if v := record.Float("duration"); v == nil || *v != 12.5 {
		t.Fatalf("unexpected duration: %v", v)
	}
	if v := record.Int("missing"); v != nil {
		t.Fatalf("expected nil for missing key, got %v", v)
	}

	ids := library.MetaIDs(dir)
	if _, ok := ids["1234567890"]; !ok || len(ids) != 2 {
		// "broken" still counts as an existing sidecar by file name.
		t.Fatalf("unexpected meta ids: %v", ids)
	}

	text, path := library.Description(record, dir, "1234567890")
	if text != "sidecar text" && text != "" {
		// info JSON has no description, sidecar should win
		t.Fatalf("unexpected description: %q", text)
	}
	if filepath.Base(path) != "1234567890.description" {
		t.Fatalf("unexpected description path: %q", path)
	}
}
