package sync

import (
	"context"
	"log/slog"

	"subsync/internal/archive"
	"subsync/internal/config"
	"subsync/internal/library"
)

// bootstrapArchives seeds missing archive files from on-disk evidence so the
// downloader does not re-fetch items that already exist locally. Existing
// archive files are never touched; yt-dlp owns them from then on.
func (s *Synchronizer) bootstrapArchives(ctx context.Context, src config.Source, logger *slog.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !archive.Exists(src.MediaArchive) {
		idPattern, err := src.CompiledVideoIDRegex()
		if err != nil {
			return err
		}
		media := library.ScanMedia(src.MediaDir, idPattern)
		ids := make([]string, 0, len(media))
		for id := range media {
			ids = append(ids, id)
		}
		if len(ids) > 0 {
			extractor := archive.DetectExtractor(src.Platform, src.SubsArchive)
			if err := archive.WriteIDs(src.MediaArchive, extractor, ids); err != nil {
				return err
			}
			logger.Info("bootstrapped media archive from disk", "items", len(ids))
		}
	}

	if !archive.Exists(src.SubsArchive) {
		subs := library.ScanSubtitles(src.SubsDir)
		ids := make([]string, 0, len(subs))
		for id := range subs {
			ids = append(ids, id)
		}
		if len(ids) > 0 {
			extractor := archive.DetectExtractor(src.Platform, src.MediaArchive)
			if err := archive.WriteIDs(src.SubsArchive, extractor, ids); err != nil {
				return err
			}
			logger.Info("bootstrapped subtitle archive from disk", "items", len(ids))
		}
	}

	return nil
}
