// Package reconcile rebuilds the ledger catalog from on-disk evidence: the
// archive files, the media and subtitle directories, and the metadata
// sidecars. A full rebuild re-derives every row and prunes rows whose items
// vanished from disk; an incremental pass only touches items with new or
// changed evidence and never deletes anything.
package reconcile

import (
	"context"
	"log/slog"
	"os"
	"time"

	"subsync/internal/archive"
	"subsync/internal/config"
	"subsync/internal/idset"
	"subsync/internal/ledger"
	"subsync/internal/library"
)

// Reconciler rebuilds catalog rows from local state.
type Reconciler struct {
	cfg    *config.Config
	store  *ledger.Store
	logger *slog.Logger
	dryRun bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithDryRun reports what would change without writing the ledger.
func WithDryRun(dryRun bool) Option {
	return func(r *Reconciler) {
		r.dryRun = dryRun
	}
}

// New constructs a Reconciler.
func New(cfg *config.Config, store *ledger.Store, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		cfg:    cfg,
		store:  store,
		logger: logger.With("component", "reconcile"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Summary reports one reconcile pass over one source.
type Summary struct {
	SourceID string
	Mode     string
	Scanned  int
	Upserted int
	Pruned   int64
}

// evidence separates what the files prove from what the archives claim.
// scanned holds IDs backed by an actual file in the media, subtitle, or
// metadata directories; all additionally folds in the archive entries. A
// full rebuild keeps only scanned IDs, so an archive line whose files are
// gone does not resurrect a catalog row. The incremental pass treats
// archive entries as new-item signals.
type evidence struct {
	scanned *idset.Set
	all     *idset.Set
	media   map[string]string
	subs    map[string][]library.SubtitleFile
}

// Full rebuilds every catalog row of the source from evidence and prunes
// rows whose items no longer exist anywhere locally.
func (r *Reconciler) Full(ctx context.Context, src config.Source) (*Summary, error) {
	summary := &Summary{SourceID: src.ID, Mode: "full"}
	logger := r.logger.With("source", src.ID)

	ev, err := r.gatherEvidence(src)
	if err != nil {
		return summary, err
	}
	summary.Scanned = ev.scanned.Len()

	if r.dryRun {
		existing, err := r.store.CatalogVideoIDs(ctx, src.ID)
		if err != nil {
			return summary, err
		}
		summary.Upserted = ev.scanned.Len()
		for id := range existing {
			if !ev.scanned.Contains(id) {
				summary.Pruned++
			}
		}
		logger.Info("dry run: full rebuild", "scanned", summary.Scanned, "would_prune", summary.Pruned)
		return summary, nil
	}

	if err := r.store.UpsertSource(ctx, src.ID, src.Platform, src.URL, src.Handle); err != nil {
		return summary, err
	}

	keep := make(map[string]struct{}, ev.scanned.Len())
	for _, id := range ev.scanned.IDs() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		keep[id] = struct{}{}
		if err := r.store.UpsertCatalogItem(ctx, r.buildItem(src, id, ev)); err != nil {
			return summary, err
		}
		summary.Upserted++
	}

	pruned, err := r.store.PruneMissing(ctx, src.ID, keep)
	if err != nil {
		return summary, err
	}
	summary.Pruned = pruned

	if _, err := r.store.PruneRetryState(ctx, src.ID); err != nil {
		return summary, err
	}

	logger.Info("full rebuild finished", "rows", summary.Upserted, "pruned", summary.Pruned)
	return summary, nil
}

// Incremental refreshes only the items with new or changed evidence. It
// never deletes rows. An empty catalog falls back to a full rebuild, since
// everything on disk is new evidence at that point.
func (r *Reconciler) Incremental(ctx context.Context, src config.Source) (*Summary, error) {
	existing, err := r.store.CatalogVideoIDs(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return r.Full(ctx, src)
	}

	summary := &Summary{SourceID: src.ID, Mode: "incremental"}
	logger := r.logger.With("source", src.ID)

	ev, err := r.gatherEvidence(src)
	if err != nil {
		return summary, err
	}
	summary.Scanned = ev.scanned.Len()

	targets := idset.New()

	// New items local state knows and the catalog does not. Archive entries
	// count here: an archived item whose files are gone still deserves a row
	// until a full rebuild decides otherwise.
	for _, id := range ev.all.IDs() {
		if _, ok := existing[id]; !ok {
			targets.Add(id)
		}
	}

	// Catalog rows still missing metadata; a sidecar may have arrived.
	noMeta, err := r.store.MissingMetaVideoIDs(ctx, src.ID, 0)
	if err != nil {
		return summary, err
	}
	for _, id := range noMeta {
		if _, ok := library.LoadMetaRecord(src.MetaDir, id); ok {
			targets.Add(id)
		}
	}

	videos, err := r.store.VideosForSource(ctx, src.ID)
	if err != nil {
		return summary, err
	}
	subStates, err := r.store.SubtitleStates(ctx, src.ID)
	if err != nil {
		return summary, err
	}

	for _, video := range videos {
		// A media file arrived for a row recorded without one.
		if video.MediaPath == "" {
			if _, ok := ev.media[video.VideoID]; ok {
				targets.Add(video.VideoID)
				continue
			}
		}
		diskSubs := ev.subs[video.VideoID]
		recorded := subStates[video.VideoID]
		if len(recorded) == 0 {
			// Subtitles arrived for a row recorded without any.
			if len(diskSubs) > 0 {
				targets.Add(video.VideoID)
			}
			continue
		}
		if subtitlesChanged(recorded, diskSubs) {
			targets.Add(video.VideoID)
		}
	}

	if r.dryRun {
		summary.Upserted = targets.Len()
		logger.Info("dry run: incremental update", "would_update", summary.Upserted)
		return summary, nil
	}

	for _, id := range targets.IDs() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := r.store.UpsertCatalogItem(ctx, r.buildItem(src, id, ev)); err != nil {
			return summary, err
		}
		summary.Upserted++
	}

	logger.Info("incremental update finished", "updated", summary.Upserted)
	return summary, nil
}

// gatherEvidence scans everything local that can speak for an item: the
// media directory, the subtitle directory, and the metadata sidecars feed
// the scanned set; both archive files additionally feed the all set.
func (r *Reconciler) gatherEvidence(src config.Source) (*evidence, error) {
	idPattern, err := src.CompiledVideoIDRegex()
	if err != nil {
		return nil, err
	}

	ev := &evidence{
		scanned: idset.New(),
		all:     idset.New(),
		media:   library.ScanMedia(src.MediaDir, idPattern),
		subs:    library.ScanSubtitles(src.SubsDir),
	}

	for id := range ev.media {
		ev.scanned.Add(id)
	}
	for id := range ev.subs {
		ev.scanned.Add(id)
	}
	for id := range library.MetaIDs(src.MetaDir) {
		ev.scanned.Add(id)
	}
	ev.all.Add(ev.scanned.IDs()...)

	mediaArchive, err := archive.ReadIDs(src.MediaArchive)
	if err != nil {
		return nil, err
	}
	ev.all.Add(mediaArchive.IDs()...)

	subsArchive, err := archive.ReadIDs(src.SubsArchive)
	if err != nil {
		return nil, err
	}
	ev.all.Add(subsArchive.IDs()...)

	return ev, nil
}

func (r *Reconciler) buildItem(src config.Source, id string, ev *evidence) ledger.CatalogItem {
	video := ledger.Video{VideoID: id, SourceID: src.ID}

	if path, ok := ev.media[id]; ok {
		video.MediaPath = path
		if info, err := os.Stat(path); err == nil {
			video.MediaSize = info.Size()
		}
	}

	if record, ok := library.LoadMetaRecord(src.MetaDir, id); ok {
		video.MetaPath = record.Path
		video.Title = record.String("title")
		video.UploadDate = record.UploadDate()
		video.Duration = record.Float("duration")
		video.ViewCount = record.Int("view_count")
		video.LikeCount = record.Int("like_count")
		description, _ := library.Description(record, src.MetaDir, id)
		video.Description = description
	}

	if url, err := src.VideoURL(id); err == nil {
		video.VideoURL = url
	}

	item := ledger.CatalogItem{Video: video}
	for _, sub := range ev.subs[id] {
		row := ledger.SubtitleRow{
			VideoID:  id,
			Language: sub.Language,
			Ext:      sub.Ext,
			Path:     sub.Path,
		}
		if info, err := os.Stat(sub.Path); err == nil {
			row.Size = info.Size()
			row.MTime = info.ModTime().UTC().Format(time.RFC3339)
		}
		item.Subtitles = append(item.Subtitles, row)
	}
	return item
}

// subtitlesChanged reports whether the on-disk subtitle files differ from
// the recorded rows in membership, size, or modification time.
func subtitlesChanged(recorded []ledger.SubtitleRow, disk []library.SubtitleFile) bool {
	if len(recorded) != len(disk) {
		return true
	}
	byPath := make(map[string]ledger.SubtitleRow, len(recorded))
	for _, row := range recorded {
		byPath[row.Path] = row
	}
	for _, file := range disk {
		row, ok := byPath[file.Path]
		if !ok {
			return true
		}
		info, err := os.Stat(file.Path)
		if err != nil {
			return true
		}
		if row.Size != info.Size() {
			return true
		}
		if row.MTime != info.ModTime().UTC().Format(time.RFC3339) {
			return true
		}
	}
	return false
}
