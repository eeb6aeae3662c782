package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Download contains yt-dlp tuning shared by all stages. Global values act as
// defaults; per-source values override them.
type Download struct {
	VideoFormat      string `toml:"video_format"`
	SubLangs         string `toml:"sub_langs"`
	SubFormat        string `toml:"sub_format"`
	SleepInterval    int    `toml:"sleep_interval"`
	MaxSleepInterval int    `toml:"max_sleep_interval"`
	RetrySleep       int    `toml:"retry_sleep"`
	PlaylistEnd      int    `toml:"playlist_end"`
	CookiesFile      string `toml:"cookies_file"`
	CookiesBrowser   string `toml:"cookies_from_browser"`
}

// Retry contains the persistent retry/backoff policy.
type Retry struct {
	BackoffBaseSeconds int `toml:"backoff_base_seconds"`
	BackoffCapSeconds  int `toml:"backoff_cap_seconds"`
	DueLimit           int `toml:"due_limit"`
	BootstrapLimit     int `toml:"bootstrap_limit"`
}

// Backfill contains global defaults for windowed historical discovery.
type Backfill struct {
	Window        int `toml:"window"`
	WindowsPerRun int `toml:"windows_per_run"`
}

// Source describes one remote content source and its local layout.
type Source struct {
	ID               string `toml:"id"`
	Platform         string `toml:"platform"`
	URL              string `toml:"url"`
	Handle           string `toml:"handle"`
	VideoURLTemplate string `toml:"video_url_template"`
	Disabled         bool   `toml:"disabled"`

	DataDir      string `toml:"data_dir"`
	MediaDir     string `toml:"media_dir"`
	SubsDir      string `toml:"subs_dir"`
	MetaDir      string `toml:"meta_dir"`
	MediaArchive string `toml:"media_archive"`
	SubsArchive  string `toml:"subs_archive"`
	URLsFile     string `toml:"urls_file"`

	VideoIDRegex        string `toml:"video_id_regex"`
	MediaOutputTemplate string `toml:"media_output_template"`
	SubsOutputTemplate  string `toml:"subs_output_template"`
	MetaOutputTemplate  string `toml:"meta_output_template"`

	VideoFormat      string `toml:"video_format"`
	SubLangs         string `toml:"sub_langs"`
	SubFormat        string `toml:"sub_format"`
	SleepInterval    int    `toml:"sleep_interval"`
	MaxSleepInterval int    `toml:"max_sleep_interval"`
	RetrySleep       int    `toml:"retry_sleep"`
	PlaylistEnd      int    `toml:"playlist_end"`
	BreakOnExisting  bool   `toml:"break_on_existing"`
	BreakPerInput    bool   `toml:"break_per_input"`
	LazyPlaylist     bool   `toml:"lazy_playlist"`
	CookiesFile      string `toml:"cookies_file"`
	CookiesBrowser   string `toml:"cookies_from_browser"`

	BackfillEnabled       bool `toml:"backfill_enabled"`
	BackfillStart         int  `toml:"backfill_start"`
	BackfillWindow        int  `toml:"backfill_window"`
	BackfillWindowsPerRun int  `toml:"backfill_windows_per_run"`
}

// Config encapsulates all configuration values for subsync.
type Config struct {
	StateDir    string `toml:"state_dir"`
	LedgerDB    string `toml:"ledger_db"`
	LedgerCSV   string `toml:"ledger_csv"`
	BaseDataDir string `toml:"base_data_dir"`
	LogLevel    string `toml:"log_level"`
	LogFormat   string `toml:"log_format"`
	YtdlpBin    string `toml:"ytdlp_bin"`
	FFprobeBin  string `toml:"ffprobe_bin"`

	Download Download `toml:"download"`
	Retry    Retry    `toml:"retry"`
	Backfill Backfill `toml:"backfill"`

	Sources []Source `toml:"source"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/subsync/config.toml")
}

// Load locates, parses, normalizes, and validates a configuration file. The
// returned config has all path fields expanded and per-source defaults
// resolved against the global sections.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("subsync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the state directory backing the ledger database,
// lock file, and CSV export.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.StateDir, filepath.Dir(c.LedgerDB), filepath.Dir(c.LedgerCSV)} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// EnsureDirectories creates the per-source media, subtitle, metadata, and
// archive directories.
func (s *Source) EnsureDirectories() error {
	dirs := []string{
		s.MediaDir,
		s.SubsDir,
		s.MetaDir,
		filepath.Dir(s.MediaArchive),
		filepath.Dir(s.SubsArchive),
		filepath.Dir(s.URLsFile),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SelectSources resolves the requested source IDs against the config. An
// empty request selects every enabled source.
func (c *Config) SelectSources(ids []string) ([]Source, error) {
	if len(ids) == 0 {
		var enabled []Source
		for _, src := range c.Sources {
			if !src.Disabled {
				enabled = append(enabled, src)
			}
		}
		if len(enabled) == 0 {
			return nil, errors.New("no enabled sources in config")
		}
		return enabled, nil
	}

	byID := make(map[string]Source, len(c.Sources))
	for _, src := range c.Sources {
		byID[src.ID] = src
	}
	seen := make(map[string]struct{}, len(ids))
	var selected []Source
	for _, id := range ids {
		src, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown source id: %s", id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		selected = append(selected, src)
	}
	return selected, nil
}

// VideoURL builds the canonical page URL for an item of this source.
func (s *Source) VideoURL(videoID string) (string, error) {
	if s.VideoURLTemplate != "" {
		replacer := strings.NewReplacer(
			"{id}", videoID,
			"{handle}", s.Handle,
			"{source_id}", s.ID,
			"{source_url}", s.URL,
		)
		return replacer.Replace(s.VideoURLTemplate), nil
	}
	if strings.EqualFold(s.Platform, "tiktok") {
		if s.Handle == "" {
			return "", fmt.Errorf("cannot infer TikTok handle for source %q: set handle or video_url_template", s.ID)
		}
		return fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", s.Handle, videoID), nil
	}
	return "", fmt.Errorf("no video URL template for source %q: set video_url_template", s.ID)
}

// CompiledVideoIDRegex compiles the source's media file ID pattern.
func (s *Source) CompiledVideoIDRegex() (*regexp.Regexp, error) {
	pattern, err := regexp.Compile(s.VideoIDRegex)
	if err != nil {
		return nil, fmt.Errorf("source %q: invalid video_id_regex: %w", s.ID, err)
	}
	return pattern, nil
}

// DefaultBackfillStart returns the first playlist index historical discovery
// should inspect: just past the current-sync window unless overridden.
func (s *Source) DefaultBackfillStart() int {
	if s.BackfillStart > 0 {
		return s.BackfillStart
	}
	if s.PlaylistEnd > 0 {
		return s.PlaylistEnd + 1
	}
	return defaultPlaylistEnd + 1
}

// CookieArgs returns the yt-dlp cookie flags for this source. A configured
// cookie file that no longer exists falls back to browser cookies.
func (s *Source) CookieArgs() []string {
	if s.CookiesFile != "" {
		if _, err := os.Stat(s.CookiesFile); err == nil {
			return []string{"--cookies", s.CookiesFile}
		}
	}
	if s.CookiesBrowser != "" {
		return []string{"--cookies-from-browser", s.CookiesBrowser}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
