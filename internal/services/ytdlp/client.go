// Package ytdlp wraps the yt-dlp command line downloader. All acquisition
// goes through batch invocations fed by a URL list file; success is never
// inferred from exit codes, callers compare archive and disk state instead.
package ytdlp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"subsync/internal/idset"
)

var commandContext = exec.CommandContext

// tailLines is how much trailing output a Result retains for run records.
const tailLines = 20

// Result describes one finished downloader invocation.
type Result struct {
	Command    string
	ExitCode   int
	OutputTail string
}

// MediaOptions configures a batch media download.
type MediaOptions struct {
	URLsFile         string
	ArchiveFile      string
	OutputDir        string
	OutputTemplate   string
	Format           string
	SleepInterval    int
	MaxSleepInterval int
	RetrySleep       string
	BreakOnExisting  bool
	BreakPerInput    bool
	LazyPlaylist     bool
	CookieArgs       []string
	OnLine           func(line string)
}

// SubtitleOptions configures a batch subtitle fetch.
type SubtitleOptions struct {
	URLsFile         string
	ArchiveFile      string
	OutputDir        string
	OutputTemplate   string
	SubLangs         string
	SubFormat        string
	SleepInterval    int
	MaxSleepInterval int
	CookieArgs       []string
	OnLine           func(line string)
}

// MetadataOptions configures a batch metadata fetch.
type MetadataOptions struct {
	URLsFile         string
	OutputDir        string
	OutputTemplate   string
	SleepInterval    int
	MaxSleepInterval int
	CookieArgs       []string
	OnLine           func(line string)
}

// FallbackOptions configures the single-item re-download used by audio
// repair. It bypasses the archive and overwrites the broken file in place.
type FallbackOptions struct {
	URL            string
	OutputDir      string
	OutputTemplate string
	CookieArgs     []string
	OnLine         func(line string)
}

// DiscoverOptions configures a flat playlist listing over one index window.
type DiscoverOptions struct {
	URL           string
	PlaylistStart int
	PlaylistEnd   int
	LazyPlaylist  bool
	CookieArgs    []string
}

// Client defines yt-dlp behaviour.
type Client interface {
	DownloadMedia(ctx context.Context, opts MediaOptions) (Result, error)
	DownloadSubtitles(ctx context.Context, opts SubtitleOptions) (Result, error)
	DownloadMetadata(ctx context.Context, opts MetadataOptions) (Result, error)
	FallbackDownload(ctx context.Context, opts FallbackOptions) (Result, error)
	Discover(ctx context.Context, opts DiscoverOptions) ([]string, Result, error)
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// CLI wraps the yt-dlp command-line downloader.
type CLI struct {
	binary string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "yt-dlp"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// DownloadMedia runs one batch media download against the URL list file.
func (c *CLI) DownloadMedia(ctx context.Context, opts MediaOptions) (Result, error) {
	if opts.URLsFile == "" {
		return Result{}, errors.New("urls file required")
	}
	args := []string{
		"--batch-file", opts.URLsFile,
		"--continue",
		"--no-overwrites",
	}
	if opts.ArchiveFile != "" {
		args = append(args, "--download-archive", opts.ArchiveFile)
	}
	if opts.Format != "" {
		args = append(args, "-f", opts.Format)
	}
	if opts.OutputDir != "" {
		args = append(args, "-P", opts.OutputDir)
	}
	if opts.OutputTemplate != "" {
		args = append(args, "-o", opts.OutputTemplate)
	}
	args = appendSleepArgs(args, opts.SleepInterval, opts.MaxSleepInterval)
	if opts.RetrySleep != "" {
		args = append(args, "--retry-sleep", opts.RetrySleep)
	}
	if opts.BreakOnExisting {
		args = append(args, "--break-on-existing")
	}
	if opts.BreakPerInput {
		args = append(args, "--break-per-input")
	}
	if opts.LazyPlaylist {
		args = append(args, "--lazy-playlist")
	}
	args = append(args, opts.CookieArgs...)
	return c.run(ctx, args, opts.OnLine)
}

// DownloadSubtitles runs one batch subtitle fetch against the URL list file.
func (c *CLI) DownloadSubtitles(ctx context.Context, opts SubtitleOptions) (Result, error) {
	if opts.URLsFile == "" {
		return Result{}, errors.New("urls file required")
	}
	args := []string{
		"--batch-file", opts.URLsFile,
		"--skip-download",
		"--write-subs",
		"--write-auto-subs",
	}
	if opts.ArchiveFile != "" {
		args = append(args, "--download-archive", opts.ArchiveFile)
	}
	if opts.SubLangs != "" {
		args = append(args, "--sub-langs", opts.SubLangs)
	}
	if opts.SubFormat != "" {
		args = append(args, "--convert-subs", opts.SubFormat)
	}
	if opts.OutputDir != "" {
		args = append(args, "-P", opts.OutputDir)
	}
	if opts.OutputTemplate != "" {
		args = append(args, "-o", "subtitle:"+opts.OutputTemplate)
	}
	args = appendSleepArgs(args, opts.SleepInterval, opts.MaxSleepInterval)
	args = append(args, opts.CookieArgs...)
	return c.run(ctx, args, opts.OnLine)
}

// DownloadMetadata runs one batch metadata fetch against the URL list file.
// Metadata has no archive; staleness is decided by the ledger, not yt-dlp.
func (c *CLI) DownloadMetadata(ctx context.Context, opts MetadataOptions) (Result, error) {
	if opts.URLsFile == "" {
		return Result{}, errors.New("urls file required")
	}
	args := []string{
		"--batch-file", opts.URLsFile,
		"--skip-download",
		"--write-info-json",
		"--write-description",
		"--no-write-playlist-metafiles",
	}
	if opts.OutputDir != "" {
		args = append(args, "-P", opts.OutputDir)
	}
	if opts.OutputTemplate != "" {
		args = append(args, "-o", "infojson:"+opts.OutputTemplate)
	}
	args = appendSleepArgs(args, opts.SleepInterval, opts.MaxSleepInterval)
	args = append(args, opts.CookieArgs...)
	return c.run(ctx, args, opts.OnLine)
}

// FallbackDownload re-downloads a single item with the generic "download"
// format, overwriting whatever is on disk.
func (c *CLI) FallbackDownload(ctx context.Context, opts FallbackOptions) (Result, error) {
	if opts.URL == "" {
		return Result{}, errors.New("url required")
	}
	args := []string{
		"-f", "download",
		"--force-overwrites",
	}
	if opts.OutputDir != "" {
		args = append(args, "-P", opts.OutputDir)
	}
	if opts.OutputTemplate != "" {
		args = append(args, "-o", opts.OutputTemplate)
	}
	args = append(args, opts.CookieArgs...)
	args = append(args, opts.URL)
	return c.run(ctx, args, opts.OnLine)
}

// Discover lists item IDs in one playlist index window without downloading.
// Progress lines and placeholder IDs are filtered out; duplicates keep their
// first position.
func (c *CLI) Discover(ctx context.Context, opts DiscoverOptions) ([]string, Result, error) {
	if opts.URL == "" {
		return nil, Result{}, errors.New("source url required")
	}
	args := []string{
		"--flat-playlist",
		"--print", "%(id)s",
	}
	if opts.PlaylistStart > 0 {
		args = append(args, "--playlist-start", strconv.Itoa(opts.PlaylistStart))
	}
	if opts.PlaylistEnd > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(opts.PlaylistEnd))
	}
	if opts.LazyPlaylist {
		args = append(args, "--lazy-playlist")
	}
	args = append(args, opts.CookieArgs...)
	args = append(args, opts.URL)

	ids := idset.New()
	res, err := c.run(ctx, args, func(line string) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == "NA" || strings.HasPrefix(trimmed, "[") {
			return
		}
		ids.Add(trimmed)
	})
	if err != nil {
		return nil, res, err
	}
	return ids.IDs(), res, nil
}

func appendSleepArgs(args []string, sleep, maxSleep int) []string {
	if sleep > 0 {
		args = append(args, "--sleep-interval", strconv.Itoa(sleep))
	}
	if maxSleep > 0 {
		args = append(args, "--max-sleep-interval", strconv.Itoa(maxSleep))
	}
	return args
}

func (c *CLI) run(ctx context.Context, args []string, onLine func(string)) (Result, error) {
	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	result := Result{Command: c.binary + " " + strings.Join(args, " ")}
	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("start %s: %w", c.binary, err)
	}

	var tail []string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if onLine != nil {
			onLine(line)
		}
		tail = append(tail, line)
		if len(tail) > tailLines {
			tail = tail[1:]
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()
	result.OutputTail = strings.Join(tail, "\n")
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	if scanErr != nil {
		return result, fmt.Errorf("read %s output: %w", c.binary, scanErr)
	}
	if waitErr != nil {
		return result, fmt.Errorf("%s exited with code %d", c.binary, result.ExitCode)
	}
	return result, nil
}

var _ Client = (*CLI)(nil)
