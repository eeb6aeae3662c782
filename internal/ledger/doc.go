// Package ledger is the SQLite persistence layer: the video catalog with its
// subtitle, favorite, note, and bookmark tables, plus the operational
// bookkeeping the synchronizer relies on (download runs, per-item retry
// state, backfill cursors).
//
// The catalog is a rebuildable projection of the archive files and the
// on-disk library; user annotations and operational state are the only data
// that cannot be regenerated, so pruning cascades carefully and rebuilds
// never touch the bookkeeping tables.
package ledger
