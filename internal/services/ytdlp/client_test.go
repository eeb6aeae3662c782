package ytdlp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func setHelperCommand(t *testing.T, mode string) *[]string {
	t.Helper()
	captured := &[]string{}
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		*captured = append([]string(nil), args...)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("YTDLP_HELPER_MODE=%s", mode))
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
	return captured
}

func urlsFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "urls.txt")
	if err := os.WriteFile(path, []byte("https://example.test/1\n"), 0o644); err != nil {
		t.Fatalf("write urls file: %v", err)
	}
	return path
}

func TestDownloadMediaRequiresURLsFile(t *testing.T) {
	cli := NewCLI()
	if _, err := cli.DownloadMedia(context.Background(), MediaOptions{}); err == nil {
		t.Fatal("expected error without urls file")
	}
}

func TestDownloadMediaArgs(t *testing.T) {
	captured := setHelperCommand(t, "success")
	cli := NewCLI(WithBinary("yt-dlp-custom"))

	opts := MediaOptions{
		URLsFile:         urlsFile(t),
		ArchiveFile:      "/archives/media.archive.txt",
		OutputDir:        "/media",
		OutputTemplate:   "%(id)s.%(ext)s",
		Format:           "bv*+ba/b",
		SleepInterval:    2,
		MaxSleepInterval: 7,
		RetrySleep:       "linear=1:20:2",
		BreakOnExisting:  true,
		CookieArgs:       []string{"--cookies", "/tmp/cookies.txt"},
	}
	res, err := cli.DownloadMedia(context.Background(), opts)
	if err != nil {
		t.Fatalf("DownloadMedia returned error: %v", err)
	}

	for _, want := range [][]string{
		{"--batch-file", opts.URLsFile},
		{"--download-archive", "/archives/media.archive.txt"},
		{"-f", "bv*+ba/b"},
		{"--sleep-interval", "2"},
		{"--max-sleep-interval", "7"},
		{"--retry-sleep", "linear=1:20:2"},
		{"--cookies", "/tmp/cookies.txt"},
	} {
		requireArgPair(t, *captured, want[0], want[1])
	}
	if !containsArg(*captured, "--break-on-existing") {
		t.Fatalf("expected --break-on-existing, got %v", *captured)
	}
	if !containsArg(*captured, "--continue") || !containsArg(*captured, "--no-overwrites") {
		t.Fatalf("expected resumable non-overwriting download, got %v", *captured)
	}
	if !strings.HasPrefix(res.Command, "yt-dlp-custom ") {
		t.Fatalf("expected recorded command line, got %q", res.Command)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", res.ExitCode)
	}
}

func TestDownloadSubtitlesArgs(t *testing.T) {
	captured := setHelperCommand(t, "success")
	cli := NewCLI()

	_, err := cli.DownloadSubtitles(context.Background(), SubtitleOptions{
		URLsFile:       urlsFile(t),
		ArchiveFile:    "/archives/subs.archive.txt",
		OutputDir:      "/subs",
		OutputTemplate: "%(id)s.%(language)s.%(ext)s",
		SubLangs:       "en.*,zh.*",
		SubFormat:      "vtt",
	})
	if err != nil {
		t.Fatalf("DownloadSubtitles returned error: %v", err)
	}

	if !containsArg(*captured, "--skip-download") ||
		!containsArg(*captured, "--write-subs") ||
		!containsArg(*captured, "--write-auto-subs") {
		t.Fatalf("expected subtitle-only flags, got %v", *captured)
	}
	requireArgPair(t, *captured, "--sub-langs", "en.*,zh.*")
	requireArgPair(t, *captured, "--convert-subs", "vtt")
	requireArgPair(t, *captured, "-o", "subtitle:%(id)s.%(language)s.%(ext)s")
}

func TestDownloadMetadataArgs(t *testing.T) {
	captured := setHelperCommand(t, "success")
	cli := NewCLI()

	_, err := cli.DownloadMetadata(context.Background(), MetadataOptions{
		URLsFile:       urlsFile(t),
		OutputDir:      "/meta",
		OutputTemplate: "%(id)s.%(ext)s",
	})
	if err != nil {
		t.Fatalf("DownloadMetadata returned error: %v", err)
	}

	if !containsArg(*captured, "--write-info-json") || !containsArg(*captured, "--write-description") {
		t.Fatalf("expected metadata flags, got %v", *captured)
	}
	if containsArg(*captured, "--download-archive") {
		t.Fatalf("metadata fetches must not use an archive, got %v", *captured)
	}
}

func TestFallbackDownloadArgs(t *testing.T) {
	captured := setHelperCommand(t, "success")
	cli := NewCLI()

	_, err := cli.FallbackDownload(context.Background(), FallbackOptions{
		URL:       "https://example.test/video/42",
		OutputDir: "/media",
	})
	if err != nil {
		t.Fatalf("FallbackDownload returned error: %v", err)
	}

	requireArgPair(t, *captured, "-f", "download")
	if !containsArg(*captured, "--force-overwrites") {
		t.Fatalf("expected --force-overwrites, got %v", *captured)
	}
	if containsArg(*captured, "--download-archive") {
		t.Fatalf("fallback must bypass the archive, got %v", *captured)
	}
	if (*captured)[len(*captured)-1] != "https://example.test/video/42" {
		t.Fatalf("expected url as final argument, got %v", *captured)
	}
}

func TestDiscoverFiltersAndDedups(t *testing.T) {
	captured := setHelperCommand(t, "discover")
	cli := NewCLI()

	ids, res, err := cli.Discover(context.Background(), DiscoverOptions{
		URL:           "https://example.test/@channel",
		PlaylistStart: 51,
		PlaylistEnd:   100,
	})
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	want := []string{"1234567890", "2345678901"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	requireArgPair(t, *captured, "--playlist-start", "51")
	requireArgPair(t, *captured, "--playlist-end", "100")
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", res.ExitCode)
	}
}

func TestRunReportsExitCode(t *testing.T) {
	setHelperCommand(t, "failure")
	cli := NewCLI()

	res, err := cli.DownloadMedia(context.Background(), MediaOptions{URLsFile: urlsFile(t)})
	if err == nil {
		t.Fatal("expected error on non-zero exit")
	}
	if res.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", res.ExitCode)
	}
	if !strings.Contains(res.OutputTail, "ERROR: unable to download") {
		t.Fatalf("expected output tail preserved, got %q", res.OutputTail)
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("YTDLP_HELPER_MODE") {
	case "success":
		fmt.Println("[download] Downloading item 1 of 1")
		os.Exit(0)
	case "discover":
		fmt.Println("[TikTok] Extracting URL")
		fmt.Println("1234567890")
		fmt.Println("NA")
		fmt.Println("2345678901")
		fmt.Println("1234567890")
		os.Exit(0)
	case "failure":
		fmt.Println("ERROR: unable to download video data")
		os.Exit(1)
	default:
		os.Exit(0)
	}
}

func requireArgPair(t *testing.T, args []string, flag, value string) {
	t.Helper()
	for i, arg := range args {
		if arg == flag {
			if i+1 >= len(args) {
				t.Fatalf("%s flag present without value in %v", flag, args)
			}
			if args[i+1] != value {
				t.Fatalf("expected %s %q, got %q", flag, value, args[i+1])
			}
			return
		}
	}
	t.Fatalf("expected %s in args %v", flag, args)
}

func containsArg(args []string, target string) bool {
	for _, arg := range args {
		if arg == target {
			return true
		}
	}
	return false
}
