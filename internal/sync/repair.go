package sync

import (
	"context"
	"log/slog"

	"subsync/internal/config"
	"subsync/internal/library"
	"subsync/internal/services/ffprobe"
	"subsync/internal/services/ytdlp"
)

// evaluateAudio decides whether a media item's file is usable. A missing
// file or a silent audio track gets one fallback re-download with yt-dlp's
// generic "download" format; the verdict after that attempt is final for
// this run. An unknown probe result is left alone: re-downloading on
// ambiguous evidence would churn files that are probably fine.
func (s *Synchronizer) evaluateAudio(ctx context.Context, src config.Source, id, url string, logger *slog.Logger) (ok, didFallback bool, reason string, err error) {
	fallback := func() error {
		_, dlErr := s.client.FallbackDownload(ctx, ytdlp.FallbackOptions{
			URL:            url,
			OutputDir:      src.MediaDir,
			OutputTemplate: src.MediaOutputTemplate,
			CookieArgs:     src.CookieArgs(),
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The file changed either way; cached loudness no longer applies.
		if clearErr := s.store.ClearLoudness(ctx, src.ID, id); clearErr != nil {
			return clearErr
		}
		return dlErr
	}

	path := library.FindMediaFile(src.MediaDir, id)
	if path == "" {
		logger.Warn("media file missing, re-downloading", "video_id", id)
		dlErr := fallback()
		if ctx.Err() != nil {
			return false, false, "", ctx.Err()
		}
		if dlErr != nil {
			return false, false, dlErr.Error(), nil
		}
		path = library.FindMediaFile(src.MediaDir, id)
		if path == "" {
			return false, false, "media file missing after fallback re-download", nil
		}
		didFallback = true
	}

	presence, probeErr := s.prober.AudioPresence(ctx, path)
	if probeErr != nil {
		return false, didFallback, "", probeErr
	}
	if presence != ffprobe.AudioAbsent {
		return true, didFallback, "", nil
	}
	if didFallback {
		// This run's one fallback attempt already went to the missing file.
		return false, true, "no audio after fallback re-download", nil
	}

	logger.Warn("media file has no audio, re-downloading", "video_id", id, "path", path)
	dlErr := fallback()
	if ctx.Err() != nil {
		return false, false, "", ctx.Err()
	}

	newPath := library.FindMediaFile(src.MediaDir, id)
	presence = ffprobe.AudioUnknown
	if newPath != "" {
		presence, probeErr = s.prober.AudioPresence(ctx, newPath)
		if probeErr != nil {
			return false, false, "", probeErr
		}
	}
	if dlErr == nil && presence == ffprobe.AudioPresent {
		return true, true, "", nil
	}

	reason = "no audio after fallback re-download"
	if dlErr != nil {
		reason = dlErr.Error()
	}
	return false, true, reason, nil
}
