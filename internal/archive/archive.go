// Package archive reads and writes yt-dlp download-archive files.
//
// An archive file is the external ground truth for "the downloader already
// fetched this item": newline-delimited `<extractor> <id>` records (bare IDs
// also accepted), `#` lines ignored, first occurrence of a duplicate ID wins.
// The downloader is the sole normal writer; subsync only bootstraps a missing
// archive from on-disk evidence so existing items are not re-fetched.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"subsync/internal/idset"
)

// ReadIDs returns the item IDs recorded in the archive file, in file order
// with first-occurrence-wins dedup. A missing file yields an empty set.
func ReadIDs(path string) (*idset.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idset.New(), nil
		}
		return nil, fmt.Errorf("read archive %s: %w", path, err)
	}

	ids := idset.New()
	for _, rawLine := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		candidate := fields[0]
		if len(fields) >= 2 {
			candidate = fields[1]
		}
		ids.Add(candidate)
	}
	return ids, nil
}

// DetectExtractor returns the extractor label used by existing archive files,
// falling back to the lowercased platform name when none is found.
func DetectExtractor(platform string, archivePaths ...string) string {
	for _, path := range archivePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for _, rawLine := range strings.Split(string(data), "\n") {
			line := strings.TrimSpace(rawLine)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) >= 2 && fields[0] != "" {
				return fields[0]
			}
		}
	}
	return strings.ToLower(platform)
}

// WriteIDs creates an archive file containing the given IDs in sorted order
// under the extractor label. Used only for bootstrap; an empty ID set writes
// nothing so the downloader can create the file itself.
func WriteIDs(path, extractor string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	var b strings.Builder
	for _, id := range sorted {
		b.WriteString(extractor)
		b.WriteByte(' ')
		b.WriteString(id)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write archive %s: %w", path, err)
	}
	return nil
}

// Exists reports whether the archive file is present.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
