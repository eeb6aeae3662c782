package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var tiktokHandlePattern = regexp.MustCompile(`tiktok\.com/@([^/?#]+)`)

// normalize expands paths and resolves per-source defaults against the
// global sections. Runs before Validate.
func (c *Config) normalize() error {
	var err error
	if c.StateDir, err = expandPath(c.StateDir); err != nil {
		return err
	}
	if c.LedgerDB == "" {
		c.LedgerDB = filepath.Join(c.StateDir, "ledger.db")
	} else if c.LedgerDB, err = expandPath(c.LedgerDB); err != nil {
		return err
	}
	if c.LedgerCSV == "" {
		c.LedgerCSV = filepath.Join(c.StateDir, "ledger.csv")
	} else if c.LedgerCSV, err = expandPath(c.LedgerCSV); err != nil {
		return err
	}
	if c.BaseDataDir != "" {
		if c.BaseDataDir, err = expandPath(c.BaseDataDir); err != nil {
			return err
		}
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.YtdlpBin == "" {
		c.YtdlpBin = "yt-dlp"
	}
	if c.FFprobeBin == "" {
		c.FFprobeBin = "ffprobe"
	}
	if c.Retry.BackoffBaseSeconds <= 0 {
		c.Retry.BackoffBaseSeconds = 300
	}
	if c.Retry.BackoffCapSeconds <= 0 {
		c.Retry.BackoffCapSeconds = 86400
	}
	if c.Retry.DueLimit <= 0 {
		c.Retry.DueLimit = 200
	}
	if c.Retry.BootstrapLimit <= 0 {
		c.Retry.BootstrapLimit = 200
	}
	if c.Backfill.Window <= 0 {
		c.Backfill.Window = defaultPlaylistEnd
	}
	if c.Backfill.WindowsPerRun <= 0 {
		c.Backfill.WindowsPerRun = 1
	}

	for i := range c.Sources {
		if err := c.normalizeSource(&c.Sources[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) normalizeSource(s *Source) error {
	s.ID = strings.TrimSpace(s.ID)
	if s.Platform == "" {
		s.Platform = "tiktok"
	}

	dataDir := s.DataDir
	if dataDir == "" {
		if c.BaseDataDir == "" {
			return fmt.Errorf("source %q: data_dir is required (or set base_data_dir)", s.ID)
		}
		dataDir = filepath.Join(c.BaseDataDir, s.ID)
	}
	var err error
	if s.DataDir, err = expandPath(dataDir); err != nil {
		return err
	}

	resolve := func(value, fallback string) (string, error) {
		if value == "" {
			return filepath.Join(s.DataDir, fallback), nil
		}
		if filepath.IsAbs(value) || strings.HasPrefix(value, "~") {
			return expandPath(value)
		}
		return filepath.Join(s.DataDir, value), nil
	}
	if s.MediaDir, err = resolve(s.MediaDir, "media"); err != nil {
		return err
	}
	if s.SubsDir, err = resolve(s.SubsDir, "subs"); err != nil {
		return err
	}
	if s.MetaDir, err = resolve(s.MetaDir, "meta"); err != nil {
		return err
	}
	if s.MediaArchive, err = resolve(s.MediaArchive, filepath.Join("archives", "media.archive.txt")); err != nil {
		return err
	}
	if s.SubsArchive, err = resolve(s.SubsArchive, filepath.Join("archives", "subs.archive.txt")); err != nil {
		return err
	}
	if s.URLsFile, err = resolve(s.URLsFile, filepath.Join("archives", "urls.txt")); err != nil {
		return err
	}
	if s.CookiesFile != "" {
		if s.CookiesFile, err = expandPath(s.CookiesFile); err != nil {
			return err
		}
	} else {
		s.CookiesFile = c.Download.CookiesFile
	}
	if s.CookiesBrowser == "" {
		s.CookiesBrowser = c.Download.CookiesBrowser
	}

	if s.Handle == "" {
		s.Handle = inferTikTokHandle(s.URL)
	}
	if s.VideoIDRegex == "" {
		s.VideoIDRegex = defaultVideoIDRegex
	}
	if s.MediaOutputTemplate == "" {
		s.MediaOutputTemplate = defaultMediaTemplate
	}
	if s.SubsOutputTemplate == "" {
		s.SubsOutputTemplate = defaultSubsTemplate
	}
	if s.MetaOutputTemplate == "" {
		s.MetaOutputTemplate = defaultMetaTemplate
	}

	if s.VideoFormat == "" {
		s.VideoFormat = c.Download.VideoFormat
	}
	if s.SubLangs == "" {
		s.SubLangs = c.Download.SubLangs
	}
	if s.SubFormat == "" {
		s.SubFormat = c.Download.SubFormat
	}
	if s.SleepInterval <= 0 {
		s.SleepInterval = c.Download.SleepInterval
	}
	if s.MaxSleepInterval <= 0 {
		s.MaxSleepInterval = c.Download.MaxSleepInterval
	}
	if s.RetrySleep <= 0 {
		s.RetrySleep = c.Download.RetrySleep
	}
	if s.PlaylistEnd <= 0 {
		s.PlaylistEnd = c.Download.PlaylistEnd
	}
	if s.BackfillWindow <= 0 {
		s.BackfillWindow = c.Backfill.Window
	}
	if s.BackfillWindowsPerRun <= 0 {
		s.BackfillWindowsPerRun = c.Backfill.WindowsPerRun
	}
	return nil
}

func inferTikTokHandle(url string) string {
	match := tiktokHandlePattern.FindStringSubmatch(url)
	if match == nil {
		return ""
	}
	return match[1]
}
