package ledger

import "time"

// Stage identifies one of the three per-source acquisition stages.
type Stage string

const (
	StageMedia     Stage = "media"
	StageSubtitles Stage = "subs"
	StageMetadata  Stage = "meta"
)

// InterruptedMessage is recorded on runs recovered from a crash or kill.
const InterruptedMessage = "interrupted previous run"

// interruptedExitCode matches the conventional SIGINT exit status.
const interruptedExitCode = 130

// Run is one invocation of the downloader for a source stage.
type Run struct {
	ID             string
	SourceID       string
	Stage          Stage
	Command        string
	StartedAt      time.Time
	FinishedAt     time.Time
	ExitCode       *int
	ErrorMessage   string
	ItemsRequested int
	ItemsSucceeded int
	ItemsFailed    int
}

// Finished reports whether the run has been closed out.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// RetryState is the per-item failure record for one source stage. URL and
// LastRunID capture what was attempted and by which run; neither can be
// re-derived once the source configuration changes.
type RetryState struct {
	SourceID   string
	Stage      Stage
	VideoID    string
	RetryCount int
	LastError  string
	URL        string
	LastRunID  string
	UpdatedAt  time.Time
}

// Video is one catalog row.
type Video struct {
	VideoID     string
	SourceID    string
	Title       string
	UploadDate  string
	Duration    *float64
	ViewCount   *int64
	LikeCount   *int64
	Description string
	VideoURL    string
	MediaPath   string
	MediaSize   int64
	MetaPath    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SubtitleRow is one catalog subtitle entry.
type SubtitleRow struct {
	VideoID  string
	Language string
	Ext      string
	Path     string
	Size     int64
	MTime    string
}

// CatalogItem carries everything UpsertCatalogItem writes for one video.
type CatalogItem struct {
	Video     Video
	Subtitles []SubtitleRow
}

// BackfillCursor tracks historical window progress for one source, including
// the bookkeeping of the most recently processed window.
type BackfillCursor struct {
	SourceID        string
	NextStart       int
	Completed       bool
	WindowSize      int
	LastWindowStart int
	LastWindowEnd   int
	LastSeenCount   int
	CompletedAt     time.Time
	UpdatedAt       time.Time
}
