package data

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("already exists")
	ErrBadAction = errors.New("invalid action")
)

// Download is one child file of a torrent: one restricted link, one local
// file, optionally one unpack. Stage timestamps are monotonic once set.
type Download struct {
	ID        string `json:"id"`
	TorrentID string `json:"torrentId"`

	// Path is the file name taken from the last path segment of the
	// restricted link when the row is created.
	Path string `json:"path"`
	// RdLink is the restricted share link; Link is the unrestricted URL
	// resolved lazily just before the download starts.
	RdLink string `json:"-"`
	Link   string `json:"link,omitempty"`
	// RemoteID identifies the transfer inside the download backend
	// (aria2 GID for the RPC worker, empty for the others).
	RemoteID string `json:"remoteId,omitempty"`

	Queued            time.Time  `json:"downloadQueued"`
	DownloadStarted   *time.Time `json:"downloadStarted,omitempty"`
	DownloadFinished  *time.Time `json:"downloadFinished,omitempty"`
	UnpackingQueued   *time.Time `json:"unpackingQueued,omitempty"`
	UnpackingStarted  *time.Time `json:"unpackingStarted,omitempty"`
	UnpackingFinished *time.Time `json:"unpackingFinished,omitempty"`
	Completed         *time.Time `json:"completed,omitempty"`

	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retryCount"`

	BytesTotal int64 `json:"bytesTotal"`
	BytesDone  int64 `json:"bytesDone"`
}

type DownloadList []*Download

func (d *Download) Clone() *Download {
	if d == nil {
		return nil
	}
	cp := *d
	cp.DownloadStarted = cloneTime(d.DownloadStarted)
	cp.DownloadFinished = cloneTime(d.DownloadFinished)
	cp.UnpackingQueued = cloneTime(d.UnpackingQueued)
	cp.UnpackingStarted = cloneTime(d.UnpackingStarted)
	cp.UnpackingFinished = cloneTime(d.UnpackingFinished)
	cp.Completed = cloneTime(d.Completed)
	return &cp
}

func (ds DownloadList) Clone() DownloadList {
	if ds == nil {
		return nil
	}
	out := make(DownloadList, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Clone())
	}
	return out
}
