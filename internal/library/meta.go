package library

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// InfoSuffix is the yt-dlp metadata sidecar extension.
const InfoSuffix = ".info.json"

var uploadDatePattern = regexp.MustCompile(`^\d{8}$`)

// MetaRecord is one parsed `<id>.info.json` sidecar. Data holds the raw
// decoded document; yt-dlp field types vary across extractors, so accessors
// coerce values tolerantly instead of failing the whole record.
type MetaRecord struct {
	Path string
	Data map[string]any
}

// MetaIDs lists the item IDs that have a metadata sidecar under dir.
func MetaIDs(dir string) map[string]struct{} {
	ids := make(map[string]struct{})
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ids
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), InfoSuffix) {
			continue
		}
		ids[strings.TrimSuffix(entry.Name(), InfoSuffix)] = struct{}{}
	}
	return ids
}

// LoadMetaRecords parses every metadata sidecar under dir, keyed by item ID.
// Unparsable files are skipped; they surface later as missing metadata.
func LoadMetaRecords(dir string) map[string]MetaRecord {
	records := make(map[string]MetaRecord)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return records
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), InfoSuffix) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), InfoSuffix)
		record, ok := loadMetaFile(filepath.Join(dir, entry.Name()))
		if !ok {
			continue
		}
		records[id] = record
	}
	return records
}

// LoadMetaRecord loads the metadata sidecar of a single item, if present.
func LoadMetaRecord(dir, videoID string) (MetaRecord, bool) {
	return loadMetaFile(filepath.Join(dir, videoID+InfoSuffix))
}

func loadMetaFile(path string) (MetaRecord, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MetaRecord{}, false
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return MetaRecord{}, false
	}
	return MetaRecord{Path: path, Data: decoded}, true
}

// String returns the named field as a trimmed string, or "".
func (r MetaRecord) String(key string) string {
	value, ok := r.Data[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// Int returns the named field coerced to int64, or nil.
func (r MetaRecord) Int(key string) *int64 {
	value, ok := r.Data[key]
	if !ok || value == nil {
		return nil
	}
	switch v := value.(type) {
	case float64:
		n := int64(v)
		return &n
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return &n
		}
	}
	return nil
}

// Float returns the named field coerced to float64, or nil.
func (r MetaRecord) Float(key string) *float64 {
	value, ok := r.Data[key]
	if !ok || value == nil {
		return nil
	}
	switch v := value.(type) {
	case float64:
		f := v
		return &f
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return &f
		}
	}
	return nil
}

// UploadDate returns the upload date normalized to YYYY-MM-DD when the raw
// value is the compact yt-dlp YYYYMMDD form.
func (r MetaRecord) UploadDate() string {
	raw := r.String("upload_date")
	if uploadDatePattern.MatchString(raw) {
		return raw[0:4] + "-" + raw[4:6] + "-" + raw[6:8]
	}
	return raw
}

// Description returns the embedded description, falling back to the
// `<id>.description` sidecar when the info JSON lacks one.
func Description(record MetaRecord, metaDir, videoID string) (text, path string) {
	sidecar := filepath.Join(metaDir, videoID+".description")
	if _, err := os.Stat(sidecar); err == nil {
		path = sidecar
	}
	if desc := record.String("description"); desc != "" {
		return desc, path
	}
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(data)), path
		}
	}
	return "", path
}
