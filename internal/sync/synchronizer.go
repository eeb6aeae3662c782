package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"subsync/internal/config"
	"subsync/internal/ledger"
	"subsync/internal/services/ffprobe"
	"subsync/internal/services/ytdlp"
)

// Synchronizer runs the acquisition stages for configured sources.
type Synchronizer struct {
	cfg    *config.Config
	store  *ledger.Store
	client ytdlp.Client
	prober ffprobe.Client
	logger *slog.Logger
	dryRun bool
	now    func() time.Time

	skipMedia    bool
	skipSubs     bool
	skipMetadata bool
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithDryRun plans every stage without writing archives, the ledger, or the
// filesystem, and without launching the downloader.
func WithDryRun(dryRun bool) Option {
	return func(s *Synchronizer) {
		s.dryRun = dryRun
	}
}

// WithSkipStages excludes individual stages from a run. Skipped stages keep
// their retry state untouched.
func WithSkipStages(media, subtitles, metadata bool) Option {
	return func(s *Synchronizer) {
		s.skipMedia = media
		s.skipSubs = subtitles
		s.skipMetadata = metadata
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Synchronizer.
func New(cfg *config.Config, store *ledger.Store, client ytdlp.Client, prober ffprobe.Client, logger *slog.Logger, opts ...Option) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synchronizer{
		cfg:    cfg,
		store:  store,
		client: client,
		prober: prober,
		logger: logger.With("component", "sync"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StageSummary reports one stage of one source.
type StageSummary struct {
	SourceID     string
	Stage        ledger.Stage
	RunID        string
	New          int
	Retried      int
	Bootstrapped int
	Deferred     int
	Succeeded    int
	Failed       int
}

// SourceSummary aggregates the stage outcomes of one source.
type SourceSummary struct {
	SourceID     string
	Stages       []StageSummary
	Repaired     int
	RepairFailed int
}

// SyncAll processes every given source in order. Interrupted runs from prior
// invocations are recovered once, up front, so their items become retryable
// before any new run starts.
func (s *Synchronizer) SyncAll(ctx context.Context, sources []config.Source) ([]*SourceSummary, error) {
	if !s.dryRun {
		recovered, err := s.store.RecoverInterrupted(ctx)
		if err != nil {
			return nil, err
		}
		if recovered > 0 {
			s.logger.Warn("recovered interrupted runs", "count", recovered)
		}
	}

	var summaries []*SourceSummary
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}
		summary, err := s.SyncSource(ctx, src)
		if err != nil {
			return summaries, fmt.Errorf("sync source %s: %w", src.ID, err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// SyncSource runs the three stages for one source. The media stage folds in
// the audio repair pass so each item is classified exactly once.
func (s *Synchronizer) SyncSource(ctx context.Context, src config.Source) (*SourceSummary, error) {
	logger := s.logger.With("source", src.ID)
	logger.Info("syncing source", "platform", src.Platform, "dry_run", s.dryRun)

	if !s.dryRun {
		if err := src.EnsureDirectories(); err != nil {
			return nil, err
		}
		if err := s.store.UpsertSource(ctx, src.ID, src.Platform, src.URL, src.Handle); err != nil {
			return nil, err
		}
		if err := s.bootstrapArchives(ctx, src, logger); err != nil {
			return nil, err
		}
	}

	summary := &SourceSummary{SourceID: src.ID}

	if err := s.runStages(ctx, src, nil, summary, logger); err != nil {
		return summary, err
	}

	if !s.dryRun {
		if err := s.store.TouchSourceSynced(ctx, src.ID); err != nil {
			return summary, err
		}
	}

	return summary, nil
}

// runStages executes the non-skipped stages in fixed order.
func (s *Synchronizer) runStages(ctx context.Context, src config.Source, restrict []string, summary *SourceSummary, logger *slog.Logger) error {
	if !s.skipMedia {
		mediaSummary, repaired, repairFailed, err := s.runMediaStage(ctx, src, restrict, logger)
		if err != nil {
			return err
		}
		summary.Stages = append(summary.Stages, mediaSummary)
		summary.Repaired = repaired
		summary.RepairFailed = repairFailed
	}

	if !s.skipSubs {
		subsSummary, err := s.runSubtitleStage(ctx, src, restrict, logger)
		if err != nil {
			return err
		}
		summary.Stages = append(summary.Stages, subsSummary)
	}

	if !s.skipMetadata {
		metaSummary, err := s.runMetadataStage(ctx, src, restrict, logger)
		if err != nil {
			return err
		}
		summary.Stages = append(summary.Stages, metaSummary)
	}

	return nil
}

// SyncIDs runs the three stages restricted to the given item IDs. Used by
// historical backfill, which discovers IDs window by window and hands them
// over for normal acquisition. Bootstrap candidates are not added.
func (s *Synchronizer) SyncIDs(ctx context.Context, src config.Source, ids []string) (*SourceSummary, error) {
	logger := s.logger.With("source", src.ID, "mode", "backfill")

	if !s.dryRun {
		if err := src.EnsureDirectories(); err != nil {
			return nil, err
		}
		if err := s.store.UpsertSource(ctx, src.ID, src.Platform, src.URL, src.Handle); err != nil {
			return nil, err
		}
		if err := s.bootstrapArchives(ctx, src, logger); err != nil {
			return nil, err
		}
	}

	summary := &SourceSummary{SourceID: src.ID}

	if err := s.runStages(ctx, src, ids, summary, logger); err != nil {
		return summary, err
	}

	return summary, nil
}

func (s *Synchronizer) backoffParams() (base, cap time.Duration) {
	base = time.Duration(s.cfg.Retry.BackoffBaseSeconds) * time.Second
	cap = time.Duration(s.cfg.Retry.BackoffCapSeconds) * time.Second
	return base, cap
}
