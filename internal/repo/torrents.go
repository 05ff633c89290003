package repo

import (
	"context"

	"github.com/tinoosan/debrix/internal/data"
)

// TorrentRepo is the persistent store for torrents and their downloads.
// List returns torrents with the download children populated.
type TorrentRepo interface {
	TorrentReader
	TorrentWriter
}

type TorrentReader interface {
	List(ctx context.Context) (data.Torrents, error)
	Get(ctx context.Context, id string) (*data.Torrent, error)
}

type TorrentWriter interface {
	Add(ctx context.Context, t *data.Torrent) (*data.Torrent, error)
	// Update applies fn to the stored torrent under the repository's lock
	// (or inside a transaction) and persists the result.
	Update(ctx context.Context, id string, fn func(t *data.Torrent) error) (*data.Torrent, error)
	// AddDownloads creates the child download rows for a torrent. Rows are
	// created exactly once; a second call for the same torrent is an error.
	AddDownloads(ctx context.Context, torrentID string, dls data.DownloadList) error
	Delete(ctx context.Context, id string) error
}
