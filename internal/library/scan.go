// Package library scans the per-source media, subtitle, and metadata
// directories. It is the on-disk evidence layer: archive bootstrap, item
// classification, and ledger reconciliation all read local state through it.
package library

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var fallbackIDPattern = regexp.MustCompile(`(\d{10,})`)

// SubtitleFile describes one subtitle file on disk.
type SubtitleFile struct {
	Language string
	Path     string
	Ext      string
}

// ExtractMediaID pulls the item ID out of a media file name using the
// source's configured pattern, falling back to any long digit run.
func ExtractMediaID(fileName string, idPattern *regexp.Regexp) string {
	if match := idPattern.FindStringSubmatch(fileName); match != nil && len(match) > 1 {
		return match[1]
	}
	if match := fallbackIDPattern.FindStringSubmatch(fileName); match != nil {
		return match[1]
	}
	return ""
}

// ScanMedia maps item IDs to media file paths under dir. When several files
// claim the same ID the largest wins (partial downloads lose to completes).
func ScanMedia(dir string, idPattern *regexp.Regexp) map[string]string {
	media := make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return media
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id := ExtractMediaID(entry.Name(), idPattern)
		if id == "" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		current, ok := media[id]
		if !ok {
			media[id] = path
			continue
		}
		if fileSize(path) > fileSize(current) {
			media[id] = path
		}
	}
	return media
}

// FindMediaFile locates the media file for one item ID, preferring the
// largest candidate when the glob matches several files.
func FindMediaFile(dir, videoID string) string {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+videoID+"*"))
	if err != nil {
		return ""
	}
	best := ""
	var bestSize int64 = -1
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Size() > bestSize {
			best = path
			bestSize = info.Size()
		}
	}
	return best
}

// ScanSubtitles maps item IDs to subtitle files under dir. File names follow
// the `<id>.<language>.<ext>` template; the leading token must be numeric.
func ScanSubtitles(dir string) map[string][]SubtitleFile {
	subtitles := make(map[string][]SubtitleFile)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return subtitles
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, sub, ok := parseSubtitleName(entry.Name())
		if !ok {
			continue
		}
		sub.Path = filepath.Join(dir, entry.Name())
		subtitles[id] = append(subtitles[id], sub)
	}
	return subtitles
}

// ScanSubtitlesFor returns the subtitle files of a single item.
func ScanSubtitlesFor(dir, videoID string) []SubtitleFile {
	matches, err := filepath.Glob(filepath.Join(dir, videoID+".*"))
	if err != nil {
		return nil
	}
	var results []SubtitleFile
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		id, sub, ok := parseSubtitleName(filepath.Base(path))
		if !ok || id != videoID {
			continue
		}
		sub.Path = path
		results = append(results, sub)
	}
	return results
}

func parseSubtitleName(name string) (string, SubtitleFile, bool) {
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return "", SubtitleFile{}, false
	}
	id := parts[0]
	if !isDigits(id) {
		return "", SubtitleFile{}, false
	}
	sub := SubtitleFile{Ext: parts[len(parts)-1]}
	if len(parts) > 2 {
		sub.Language = strings.Join(parts[1:len(parts)-1], ".")
	}
	return id, sub, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}
