package repo

import (
	"context"
	"time"

	"github.com/tinoosan/debrix/internal/data"
)

// DownloadRepo is the downloads facade consumed by the runner. All stage
// mutations go through it; the in-memory rows the runner works from are
// advisory copies.
type DownloadRepo interface {
	DownloadReader
	DownloadWriter
}

type DownloadReader interface {
	GetDownload(ctx context.Context, id string) (*data.Download, error)
	ListByTorrent(ctx context.Context, torrentID string) (data.DownloadList, error)
}

type DownloadWriter interface {
	UpdateLink(ctx context.Context, id string, link string) error
	UpdateDownloadStarted(ctx context.Context, id string, ts *time.Time) error
	// MarkDownloadFinished sets downloadFinished and unpackingQueued in a
	// single write.
	MarkDownloadFinished(ctx context.Context, id string, ts time.Time) error
	UpdateUnpackingStarted(ctx context.Context, id string, ts *time.Time) error
	UpdateUnpackingFinished(ctx context.Context, id string, ts time.Time) error
	// MarkUnpackSkipped sets unpackingStarted, unpackingFinished and
	// completed in a single write. Used for files that need no extraction.
	MarkUnpackSkipped(ctx context.Context, id string, ts time.Time) error
	UpdateCompleted(ctx context.Context, id string, ts time.Time) error
	UpdateError(ctx context.Context, id string, msg string) error
	UpdateRetryCount(ctx context.Context, id string, count int) error
	UpdateProgress(ctx context.Context, id string, done, total int64) error
	// Reset clears the stage timestamps and error so the download is
	// re-picked by the starter on a later tick.
	Reset(ctx context.Context, id string) error
	// Batch updates issued after a fan-out of worker starts.
	UpdateRemoteIDs(ctx context.Context, ids map[string]string) error
	UpdateErrors(ctx context.Context, errs map[string]string) error
}
