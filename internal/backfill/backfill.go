// Package backfill walks a source's history in fixed playlist index windows,
// handing each window's discovered items to the synchronizer. A persistent
// cursor survives crashes and partial runs; the tail of the history is
// detected when a window comes back short or empty.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"subsync/internal/config"
	"subsync/internal/ledger"
	"subsync/internal/services/ytdlp"
	syncpkg "subsync/internal/sync"
)

// WindowSyncer acquires a fixed set of item IDs through the normal stages.
type WindowSyncer interface {
	SyncIDs(ctx context.Context, src config.Source, ids []string) (*syncpkg.SourceSummary, error)
}

// Runner drives windowed historical discovery for configured sources.
type Runner struct {
	cfg    *config.Config
	store  *ledger.Store
	client ytdlp.Client
	syncer WindowSyncer
	logger *slog.Logger
	dryRun bool

	windowsOverride int
}

// Option configures a Runner.
type Option func(*Runner)

// WithDryRun discovers windows without moving the cursor or downloading.
func WithDryRun(dryRun bool) Option {
	return func(r *Runner) {
		r.dryRun = dryRun
	}
}

// WithWindowsPerRun caps how many windows each source scans this invocation,
// overriding the configured limits.
func WithWindowsPerRun(n int) Option {
	return func(r *Runner) {
		r.windowsOverride = n
	}
}

// New constructs a Runner.
func New(cfg *config.Config, store *ledger.Store, client ytdlp.Client, syncer WindowSyncer, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		cfg:    cfg,
		store:  store,
		client: client,
		syncer: syncer,
		logger: logger.With("component", "backfill"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Summary reports one source's backfill progress for this invocation.
type Summary struct {
	SourceID        string
	Skipped         bool
	WindowsScanned  int
	ItemsSeen       int
	Completed       bool
	DiscoveryFailed bool
	NextStart       int
}

// Run processes up to the configured number of windows per enabled source.
// Interrupted runs from prior invocations are recovered first so their items
// are retryable inside the windows about to be synced.
func (r *Runner) Run(ctx context.Context, sources []config.Source) ([]*Summary, error) {
	if !r.dryRun {
		recovered, err := r.store.RecoverInterrupted(ctx)
		if err != nil {
			return nil, err
		}
		if recovered > 0 {
			r.logger.Warn("recovered interrupted runs", "count", recovered)
		}
	}

	var summaries []*Summary
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}
		summary, err := r.runSource(ctx, src)
		if err != nil {
			return summaries, fmt.Errorf("backfill source %s: %w", src.ID, err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (r *Runner) runSource(ctx context.Context, src config.Source) (*Summary, error) {
	summary := &Summary{SourceID: src.ID}
	logger := r.logger.With("source", src.ID)

	if !src.BackfillEnabled {
		summary.Skipped = true
		return summary, nil
	}

	window := src.BackfillWindow
	if window <= 0 {
		window = r.cfg.Backfill.Window
	}
	windowsPerRun := src.BackfillWindowsPerRun
	if windowsPerRun <= 0 {
		windowsPerRun = r.cfg.Backfill.WindowsPerRun
	}
	if r.windowsOverride > 0 {
		windowsPerRun = r.windowsOverride
	}

	start := src.DefaultBackfillStart()
	if !r.dryRun {
		if err := r.store.EnsureBackfillCursor(ctx, src.ID, start, window); err != nil {
			return summary, err
		}
		cursor, err := r.store.GetBackfillCursor(ctx, src.ID)
		if err != nil {
			return summary, err
		}
		if cursor.Completed {
			summary.Completed = true
			summary.NextStart = cursor.NextStart
			logger.Info("backfill already completed", "next_start", cursor.NextStart)
			return summary, nil
		}
		start = cursor.NextStart
	}
	summary.NextStart = start

	for scanned := 0; scanned < windowsPerRun; scanned++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		end := start + window - 1
		logger.Info("scanning window", "start", start, "end", end)
		started := time.Now()
		ids, _, err := r.client.Discover(ctx, ytdlp.DiscoverOptions{
			URL:           src.URL,
			PlaylistStart: start,
			PlaylistEnd:   end,
			LazyPlaylist:  src.LazyPlaylist,
			CookieArgs:    src.CookieArgs(),
		})
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			// The cursor stays put so the next run retries this window.
			summary.DiscoveryFailed = true
			logger.Warn("window discovery failed, stopping", "start", start, "end", end, "error", err)
			return summary, nil
		}
		summary.WindowsScanned++
		summary.ItemsSeen += len(ids)
		logger.Info("window discovered", "items", len(ids), "elapsed", time.Since(started).Round(time.Millisecond))

		if len(ids) == 0 {
			// Past the end of the history. The cursor keeps its position so a
			// later reset can resume exactly here.
			summary.Completed = true
			summary.NextStart = start
			if r.dryRun {
				return summary, nil
			}
			return summary, r.store.UpdateBackfillCursor(ctx, src.ID, ledger.BackfillProgress{
				NextStart:   start,
				Completed:   true,
				WindowStart: start,
				WindowEnd:   end,
			})
		}

		if _, err := r.syncer.SyncIDs(ctx, src, ids); err != nil {
			return summary, err
		}

		if len(ids) < window {
			// A short window is the tail of the history.
			summary.Completed = true
			summary.NextStart = end + 1
			if r.dryRun {
				return summary, nil
			}
			return summary, r.store.UpdateBackfillCursor(ctx, src.ID, ledger.BackfillProgress{
				NextStart:   end + 1,
				Completed:   true,
				WindowStart: start,
				WindowEnd:   end,
				SeenCount:   len(ids),
			})
		}

		if !r.dryRun {
			progress := ledger.BackfillProgress{
				NextStart:   end + 1,
				WindowStart: start,
				WindowEnd:   end,
				SeenCount:   len(ids),
			}
			if err := r.store.UpdateBackfillCursor(ctx, src.ID, progress); err != nil {
				return summary, err
			}
		}
		start = end + 1
		summary.NextStart = start
	}

	return summary, nil
}
