package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Validate checks the normalized configuration for fatal problems. These are
// the only errors that abort the whole process; everything downstream is
// handled at item or tool granularity.
func (c *Config) Validate() error {
	var problems []string

	switch c.LogFormat {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("log_format: unsupported value %q", c.LogFormat))
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log_level: unsupported value %q", c.LogLevel))
	}

	if len(c.Sources) == 0 {
		problems = append(problems, "no [[source]] entries found in config")
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		label := src.ID
		if label == "" {
			label = fmt.Sprintf("source #%d", i+1)
			problems = append(problems, fmt.Sprintf("%s: id is required", label))
		}
		if _, dup := seen[src.ID]; dup && src.ID != "" {
			problems = append(problems, fmt.Sprintf("%s: duplicate source id", label))
		}
		seen[src.ID] = struct{}{}

		if strings.TrimSpace(src.URL) == "" {
			problems = append(problems, fmt.Sprintf("%s: url is required", label))
		}
		if _, err := regexp.Compile(src.VideoIDRegex); err != nil {
			problems = append(problems, fmt.Sprintf("%s: video_id_regex: %v", label, err))
		}
		if src.BackfillEnabled && src.BackfillWindow < 1 {
			problems = append(problems, fmt.Sprintf("%s: backfill_window must be at least 1", label))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration:\n  - " + strings.Join(problems, "\n  - "))
}
