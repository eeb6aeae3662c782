package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"subsync/internal/archive"
	"subsync/internal/config"
	"subsync/internal/idset"
	"subsync/internal/ledger"
	"subsync/internal/library"
	"subsync/internal/services/ytdlp"
)

type stagePlan struct {
	candidates   *idset.Set
	newCount     int
	retryCount   int
	bootstrapped int
}

func (p *stagePlan) addNew(ids []string) {
	for _, id := range ids {
		if p.candidates.Add(id) {
			p.newCount++
		}
	}
}

func (p *stagePlan) addRetries(ids []string) {
	for _, id := range ids {
		if p.candidates.Add(id) {
			p.retryCount++
		}
	}
}

func (p *stagePlan) addBootstrap(ids []string) {
	for _, id := range ids {
		if p.candidates.Add(id) {
			p.bootstrapped++
		}
	}
}

func (s *Synchronizer) runMediaStage(ctx context.Context, src config.Source, restrict []string, logger *slog.Logger) (StageSummary, int, int, error) {
	before, err := archive.ReadIDs(src.MediaArchive)
	if err != nil {
		return StageSummary{}, 0, 0, err
	}

	plan := stagePlan{candidates: idset.New()}
	if restrict != nil {
		plan.addNew(idset.Diff(restrict, before))
	} else {
		discovered, _, discErr := s.client.Discover(ctx, ytdlp.DiscoverOptions{
			URL:          src.URL,
			PlaylistEnd:  src.PlaylistEnd,
			LazyPlaylist: src.LazyPlaylist,
			CookieArgs:   src.CookieArgs(),
		})
		if discErr != nil {
			if ctx.Err() != nil {
				return StageSummary{}, 0, 0, ctx.Err()
			}
			logger.Warn("discovery failed, continuing with retries only", "stage", ledger.StageMedia, "error", discErr)
		} else {
			plan.addNew(idset.Diff(discovered, before))
		}
		if !s.dryRun {
			due, retryErr := s.dueRetries(ctx, src.ID, ledger.StageMedia)
			if retryErr != nil {
				return StageSummary{}, 0, 0, retryErr
			}
			plan.addRetries(due)

			// Items whose loudness analysis found no signal at all get
			// another shot; the file is most likely truncated or silent.
			bootstrap, bootErr := s.store.NoAudioBootstrapIDs(ctx, src.ID, s.cfg.Retry.BootstrapLimit)
			if bootErr != nil {
				return StageSummary{}, 0, 0, bootErr
			}
			plan.addBootstrap(bootstrap)
		}
	}

	invoke := func(ctx context.Context, urlsFile string, onLine func(string)) (ytdlp.Result, error) {
		return s.client.DownloadMedia(ctx, ytdlp.MediaOptions{
			URLsFile:         urlsFile,
			ArchiveFile:      src.MediaArchive,
			OutputDir:        src.MediaDir,
			OutputTemplate:   src.MediaOutputTemplate,
			Format:           src.VideoFormat,
			SleepInterval:    src.SleepInterval,
			MaxSleepInterval: src.MaxSleepInterval,
			RetrySleep:       retrySleepArg(src.RetrySleep),
			BreakOnExisting:  src.BreakOnExisting,
			BreakPerInput:    src.BreakPerInput,
			CookieArgs:       src.CookieArgs(),
			OnLine:           onLine,
		})
	}
	verify := func() (func(id string) bool, error) {
		after, err := archive.ReadIDs(src.MediaArchive)
		if err != nil {
			return nil, err
		}
		return func(id string) bool {
			if after.Contains(id) && !before.Contains(id) {
				return true
			}
			return library.FindMediaFile(src.MediaDir, id) != ""
		}, nil
	}

	var repaired, repairFailed int
	classify := func(ctx context.Context, id, url string) (bool, string, error) {
		ok, didFallback, reason, err := s.evaluateAudio(ctx, src, id, url, logger)
		if err != nil {
			return false, "", err
		}
		if didFallback && ok {
			repaired++
		}
		if !ok {
			repairFailed++
		}
		return ok, reason, nil
	}

	summary, err := s.executeStage(ctx, src, ledger.StageMedia, plan, invoke, verify, classify, logger)
	return summary, repaired, repairFailed, err
}

func (s *Synchronizer) runSubtitleStage(ctx context.Context, src config.Source, restrict []string, logger *slog.Logger) (StageSummary, error) {
	mediaIDs, err := archive.ReadIDs(src.MediaArchive)
	if err != nil {
		return StageSummary{}, err
	}
	before, err := archive.ReadIDs(src.SubsArchive)
	if err != nil {
		return StageSummary{}, err
	}

	plan := stagePlan{candidates: idset.New()}
	if restrict != nil {
		plan.addNew(idset.Diff(restrict, before))
	} else {
		plan.addNew(idset.Diff(mediaIDs.IDs(), before))
		if !s.dryRun {
			due, retryErr := s.dueRetries(ctx, src.ID, ledger.StageSubtitles)
			if retryErr != nil {
				return StageSummary{}, retryErr
			}
			plan.addRetries(due)

			bootstrap, bootErr := s.store.MissingSubtitleVideoIDs(ctx, src.ID, s.cfg.Retry.BootstrapLimit)
			if bootErr != nil {
				return StageSummary{}, bootErr
			}
			plan.addBootstrap(bootstrap)
		}
	}

	invoke := func(ctx context.Context, urlsFile string, onLine func(string)) (ytdlp.Result, error) {
		return s.client.DownloadSubtitles(ctx, ytdlp.SubtitleOptions{
			URLsFile:         urlsFile,
			ArchiveFile:      src.SubsArchive,
			OutputDir:        src.SubsDir,
			OutputTemplate:   src.SubsOutputTemplate,
			SubLangs:         src.SubLangs,
			SubFormat:        src.SubFormat,
			SleepInterval:    src.SleepInterval,
			MaxSleepInterval: src.MaxSleepInterval,
			CookieArgs:       src.CookieArgs(),
			OnLine:           onLine,
		})
	}
	verify := func() (func(id string) bool, error) {
		after, err := archive.ReadIDs(src.SubsArchive)
		if err != nil {
			return nil, err
		}
		return func(id string) bool {
			if after.Contains(id) && !before.Contains(id) {
				return true
			}
			return len(library.ScanSubtitlesFor(src.SubsDir, id)) > 0
		}, nil
	}

	summary, err := s.executeStage(ctx, src, ledger.StageSubtitles, plan, invoke, verify, nil, logger)
	return summary, err
}

func (s *Synchronizer) runMetadataStage(ctx context.Context, src config.Source, restrict []string, logger *slog.Logger) (StageSummary, error) {
	idPattern, err := src.CompiledVideoIDRegex()
	if err != nil {
		return StageSummary{}, err
	}
	have := library.MetaIDs(src.MetaDir)

	plan := stagePlan{candidates: idset.New()}
	if restrict != nil {
		for _, id := range restrict {
			if _, ok := have[id]; ok {
				continue
			}
			if plan.candidates.Add(id) {
				plan.newCount++
			}
		}
	} else {
		// Candidate order follows the evidence sources: media archive, subs
		// archive, then whatever sits on disk without an archive entry.
		union := idset.New()
		mediaIDs, err := archive.ReadIDs(src.MediaArchive)
		if err != nil {
			return StageSummary{}, err
		}
		for _, id := range mediaIDs.IDs() {
			union.Add(id)
		}
		subsIDs, err := archive.ReadIDs(src.SubsArchive)
		if err != nil {
			return StageSummary{}, err
		}
		for _, id := range subsIDs.IDs() {
			union.Add(id)
		}
		for id := range library.ScanMedia(src.MediaDir, idPattern) {
			union.Add(id)
		}
		for id := range library.ScanSubtitles(src.SubsDir) {
			union.Add(id)
		}

		for _, id := range union.IDs() {
			if _, ok := have[id]; ok {
				continue
			}
			if plan.candidates.Add(id) {
				plan.newCount++
			}
		}
		if !s.dryRun {
			due, retryErr := s.dueRetries(ctx, src.ID, ledger.StageMetadata)
			if retryErr != nil {
				return StageSummary{}, retryErr
			}
			plan.addRetries(due)
		}
	}

	invoke := func(ctx context.Context, urlsFile string, onLine func(string)) (ytdlp.Result, error) {
		return s.client.DownloadMetadata(ctx, ytdlp.MetadataOptions{
			URLsFile:         urlsFile,
			OutputDir:        src.MetaDir,
			OutputTemplate:   src.MetaOutputTemplate,
			SleepInterval:    src.SleepInterval,
			MaxSleepInterval: src.MaxSleepInterval,
			CookieArgs:       src.CookieArgs(),
			OnLine:           onLine,
		})
	}
	verify := func() (func(id string) bool, error) {
		fresh := library.MetaIDs(src.MetaDir)
		return func(id string) bool {
			_, ok := fresh[id]
			return ok
		}, nil
	}

	summary, err := s.executeStage(ctx, src, ledger.StageMetadata, plan, invoke, verify, nil, logger)
	return summary, err
}

func (s *Synchronizer) dueRetries(ctx context.Context, sourceID string, stage ledger.Stage) ([]string, error) {
	base, cap := s.backoffParams()
	return s.store.DueRetryIDs(ctx, sourceID, stage, s.now(), base, cap, s.cfg.Retry.DueLimit)
}

// executeStage partitions the plan's candidates against the backoff table,
// runs one batch invocation for the due set, and classifies every due item
// exactly once. Items whose URL cannot be built are recorded as failures and
// skipped; the rest of the batch still runs. A non-nil classify hook gets
// the final say on items the batch produced evidence for.
func (s *Synchronizer) executeStage(
	ctx context.Context,
	src config.Source,
	stage ledger.Stage,
	plan stagePlan,
	invoke func(ctx context.Context, urlsFile string, onLine func(string)) (ytdlp.Result, error),
	verify func() (func(id string) bool, error),
	classify func(ctx context.Context, id, url string) (bool, string, error),
	logger *slog.Logger,
) (StageSummary, error) {
	summary := StageSummary{
		SourceID:     src.ID,
		Stage:        stage,
		New:          plan.newCount,
		Retried:      plan.retryCount,
		Bootstrapped: plan.bootstrapped,
	}
	logger = logger.With("stage", string(stage))

	var due, deferred []string
	if s.dryRun {
		due = plan.candidates.IDs()
	} else {
		base, cap := s.backoffParams()
		var err error
		due, deferred, err = s.store.SplitRetryable(ctx, src.ID, stage, plan.candidates.IDs(), s.now(), base, cap)
		if err != nil {
			return summary, err
		}
	}
	summary.Deferred = len(deferred)

	if s.dryRun {
		logger.Info("dry run: would download",
			"targets", len(due), "new", summary.New, "retry", summary.Retried, "bootstrap", summary.Bootstrapped)
		return summary, nil
	}

	if len(due) == 0 {
		// Still record a run so "when did we last look" is answerable.
		runID, err := s.store.BeginRun(ctx, src.ID, stage, "", 0)
		if err != nil {
			return summary, err
		}
		if err := s.store.FinishRun(ctx, runID, 0, "", 0, 0); err != nil {
			return summary, err
		}
		summary.RunID = runID
		logger.Info("nothing to download", "deferred", summary.Deferred)
		return summary, nil
	}

	urls := make(map[string]string, len(due))
	skipped := make(map[string]string)
	var batch []string
	for _, id := range due {
		url, urlErr := src.VideoURL(id)
		if urlErr != nil {
			logger.Warn("cannot build item URL, skipping", "video_id", id, "error", urlErr)
			skipped[id] = urlErr.Error()
			continue
		}
		urls[id] = url
		batch = append(batch, id)
	}

	recordSkipped := func(runID string) error {
		for _, id := range due {
			reason, wasSkipped := skipped[id]
			if !wasSkipped {
				continue
			}
			summary.Failed++
			if err := s.store.RecordFailure(ctx, src.ID, stage, id, "", runID, reason); err != nil {
				return err
			}
		}
		return nil
	}

	if len(batch) == 0 {
		runID, err := s.store.BeginRun(ctx, src.ID, stage, "", len(due))
		if err != nil {
			return summary, err
		}
		summary.RunID = runID
		if err := recordSkipped(runID); err != nil {
			return summary, err
		}
		if err := s.store.FinishRun(ctx, runID, 0, "", 0, summary.Failed); err != nil {
			return summary, err
		}
		logger.Info("no downloadable items in batch", "failed", summary.Failed, "deferred", summary.Deferred)
		return summary, nil
	}

	urlsFile, cleanup, err := s.writeURLList(src, stage, batch, urls)
	if err != nil {
		return summary, err
	}
	defer cleanup()

	runID, err := s.store.BeginRun(ctx, src.ID, stage, "", len(due))
	if err != nil {
		return summary, err
	}
	summary.RunID = runID
	if err := recordSkipped(runID); err != nil {
		return summary, err
	}
	logger.Info("starting batch download",
		"targets", len(batch), "new", summary.New, "retry", summary.Retried,
		"bootstrap", summary.Bootstrapped, "deferred", summary.Deferred)

	res, runErr := invoke(ctx, urlsFile, func(line string) {
		logger.Debug("yt-dlp", "line", line)
	})
	if res.Command != "" {
		if err := s.store.SetRunCommand(ctx, runID, res.Command); err != nil {
			return summary, err
		}
	}
	if ctx.Err() != nil {
		// Leave the run open; the next invocation recovers it as interrupted.
		return summary, ctx.Err()
	}

	check, err := verify()
	if err != nil {
		return summary, err
	}

	failMessage := "no evidence of completion after batch run"
	if runErr != nil {
		failMessage = runErr.Error()
	}
	for _, id := range batch {
		if !check(id) {
			summary.Failed++
			if err := s.store.RecordFailure(ctx, src.ID, stage, id, urls[id], runID, failMessage); err != nil {
				return summary, err
			}
			continue
		}
		if classify != nil {
			ok, reason, classifyErr := classify(ctx, id, urls[id])
			if classifyErr != nil {
				return summary, classifyErr
			}
			if !ok {
				summary.Failed++
				if err := s.store.RecordFailure(ctx, src.ID, stage, id, urls[id], runID, reason); err != nil {
					return summary, err
				}
				continue
			}
		}
		summary.Succeeded++
		if err := s.store.RecordSuccess(ctx, src.ID, stage, id, urls[id], runID); err != nil {
			return summary, err
		}
	}

	runMessage := ""
	if runErr != nil {
		runMessage = runErr.Error()
	}
	if err := s.store.FinishRun(ctx, runID, res.ExitCode, runMessage, summary.Succeeded, summary.Failed); err != nil {
		return summary, err
	}

	logger.Info("batch download finished",
		"succeeded", summary.Succeeded, "failed", summary.Failed, "exit_code", res.ExitCode)
	return summary, nil
}

// writeURLList materializes the due set as a yt-dlp batch file next to the
// source's archives. Each run gets its own file so a crash leaves evidence
// of what was attempted.
func (s *Synchronizer) writeURLList(src config.Source, stage ledger.Stage, ids []string, urls map[string]string) (string, func(), error) {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(urls[id])
		b.WriteByte('\n')
	}

	dir := filepath.Dir(src.URLsFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create urls directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("urls-%s-%s.txt", stage, uuid.NewString()))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", nil, fmt.Errorf("write urls file: %w", err)
	}
	return path, func() { _ = os.Remove(path) }, nil
}

func retrySleepArg(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	return strconv.Itoa(seconds)
}
