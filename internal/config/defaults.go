package config

const (
	defaultPlaylistEnd   = 200
	defaultVideoIDRegex  = `_(\d{10,})_`
	defaultMediaTemplate = "%(upload_date>%Y-%m-%d)s_%(id)s_%(title).200B.%(ext)s"
	defaultSubsTemplate  = "%(id)s.%(language)s.%(ext)s"
	defaultMetaTemplate  = "%(id)s.%(ext)s"
)

// Default returns the baseline configuration before any file is applied.
func Default() Config {
	return Config{
		StateDir:   "~/.local/share/subsync",
		LogLevel:   "info",
		LogFormat:  "console",
		YtdlpBin:   "yt-dlp",
		FFprobeBin: "ffprobe",
		Download: Download{
			VideoFormat:      "bv*+ba/best",
			SubLangs:         "en.*,en,und",
			SubFormat:        "vtt/ttml/best",
			SleepInterval:    2,
			MaxSleepInterval: 6,
			RetrySleep:       5,
			PlaylistEnd:      defaultPlaylistEnd,
		},
		Retry: Retry{
			BackoffBaseSeconds: 300,
			BackoffCapSeconds:  86400,
			DueLimit:           200,
			BootstrapLimit:     200,
		},
		Backfill: Backfill{
			Window:        defaultPlaylistEnd,
			WindowsPerRun: 1,
		},
	}
}
