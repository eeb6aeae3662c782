package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"subsync/internal/config"
	"subsync/internal/ledger"
	"subsync/internal/logging"
	"subsync/internal/services/ffprobe"
	"subsync/internal/services/ytdlp"
)

type commandContext struct {
	configFlag    *string
	logLevelFlag  *string
	logFormatFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag, logFormatFlag *string) *commandContext {
	return &commandContext{
		configFlag:    configFlag,
		logLevelFlag:  logLevelFlag,
		logFormatFlag: logFormatFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
		level = strings.TrimSpace(*c.logLevelFlag)
	}
	format := cfg.LogFormat
	if c.logFormatFlag != nil && strings.TrimSpace(*c.logFormatFlag) != "" {
		format = strings.TrimSpace(*c.logFormatFlag)
	}
	return logging.New(logging.Options{Level: level, Format: format})
}

func (c *commandContext) openStore() (*ledger.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return ledger.Open(cfg.LedgerDB)
}

// withLock serializes write commands against the shared state directory.
// Concurrent syncs would race on the archive files and the download runs.
func (c *commandContext) withLock(fn func() error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	lock := flock.New(filepath.Join(cfg.StateDir, "subsync.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another subsync instance is already running against this state directory")
	}
	defer func() {
		_ = lock.Unlock()
	}()
	return fn()
}

func (c *commandContext) downloader() (ytdlp.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return ytdlp.NewCLI(ytdlp.WithBinary(cfg.YtdlpBin)), nil
}

func (c *commandContext) prober() (ffprobe.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return ffprobe.NewCLI(ffprobe.WithBinary(cfg.FFprobeBin)), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
