// Package testsupport provides shared fixtures for package tests: temp-dir
// configs with one ready-to-use source, ledger stores, and file helpers.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"subsync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test
// and a single enabled source named "src". It defaults common fields and
// applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.StateDir = filepath.Join(base, "state")
	cfgVal.LedgerDB = filepath.Join(base, "state", "ledger.db")
	cfgVal.LedgerCSV = filepath.Join(base, "state", "ledger.csv")
	cfgVal.BaseDataDir = filepath.Join(base, "data")
	cfgVal.Sources = []config.Source{NewSource(t, base, "src")}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// NewSource builds a fully resolved source rooted under base/<id>.
func NewSource(t testing.TB, base, id string) config.Source {
	t.Helper()

	dataDir := filepath.Join(base, "data", id)
	src := config.Source{
		ID:                  id,
		Platform:            "tiktok",
		URL:                 "https://www.tiktok.com/@" + id,
		Handle:              id,
		DataDir:             dataDir,
		MediaDir:            filepath.Join(dataDir, "media"),
		SubsDir:             filepath.Join(dataDir, "subs"),
		MetaDir:             filepath.Join(dataDir, "meta"),
		MediaArchive:        filepath.Join(dataDir, "archives", "media.archive.txt"),
		SubsArchive:         filepath.Join(dataDir, "archives", "subs.archive.txt"),
		URLsFile:            filepath.Join(dataDir, "archives", "urls.txt"),
		VideoIDRegex:        `_(\d{10,})_`,
		MediaOutputTemplate: "%(upload_date>%Y-%m-%d)s_%(id)s_%(title).200B.%(ext)s",
		SubsOutputTemplate:  "%(id)s.%(language)s.%(ext)s",
		MetaOutputTemplate:  "%(id)s.%(ext)s",
		PlaylistEnd:         200,
	}
	for _, dir := range []string{src.MediaDir, src.SubsDir, src.MetaDir, filepath.Dir(src.MediaArchive)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return src
}

// WithRetryPolicy overrides the retry section on the test config.
func WithRetryPolicy(retry config.Retry) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Retry = retry
	}
}

// WithExtraSource appends another resolved source to the test config.
func WithExtraSource(id string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sources = append(b.cfg.Sources, NewSource(b.t, b.baseDir, id))
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default external binaries
// are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"yt-dlp", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.StateDir)
}
