// Package config loads and validates the subsync configuration file.
//
// Configuration is TOML: a set of global defaults (paths, yt-dlp tuning,
// retry policy, backfill policy) plus one [[source]] block per remote
// content source. All ambient constants the pipeline depends on (backoff
// base/cap, due-retry limits, backfill window size) live on the loaded
// Config value and are passed into the pipeline at construction.
package config
