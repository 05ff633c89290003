package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/debrix/internal/data"
)

// InMemoryRepo implements TorrentRepo and DownloadRepo behind one mutex. It
// backs tests and single-node deployments without Postgres.
type InMemoryRepo struct {
	mu       sync.RWMutex
	torrents map[string]*data.Torrent
	order    []string
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{torrents: make(map[string]*data.Torrent)}
}

var (
	_ TorrentRepo  = (*InMemoryRepo)(nil)
	_ DownloadRepo = (*InMemoryRepo)(nil)
)

func (r *InMemoryRepo) List(ctx context.Context) (data.Torrents, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(data.Torrents, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.torrents[id].Clone())
	}
	return out, nil
}

func (r *InMemoryRepo) Get(ctx context.Context, id string) (*data.Torrent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.torrents[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return t.Clone(), nil
}

func (r *InMemoryRepo) Add(ctx context.Context, t *data.Torrent) (*data.Torrent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, ok := r.torrents[t.ID]; ok {
		return nil, data.ErrConflict
	}
	if t.Added.IsZero() {
		t.Added = time.Now()
	}
	r.torrents[t.ID] = t.Clone()
	r.order = append(r.order, t.ID)
	return t.Clone(), nil
}

func (r *InMemoryRepo) Update(ctx context.Context, id string, fn func(t *data.Torrent) error) (*data.Torrent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.torrents[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

func (r *InMemoryRepo) AddDownloads(ctx context.Context, torrentID string, dls data.DownloadList) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.torrents[torrentID]
	if !ok {
		return data.ErrNotFound
	}
	if len(t.Downloads) > 0 {
		return data.ErrConflict
	}
	for _, d := range dls {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.TorrentID = torrentID
		t.Downloads = append(t.Downloads, d.Clone())
	}
	return nil
}

func (r *InMemoryRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.torrents[id]; !ok {
		return data.ErrNotFound
	}
	delete(r.torrents, id)
	for i, tid := range r.order {
		if tid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// --- DownloadRepo ---

func (r *InMemoryRepo) GetDownload(ctx context.Context, id string) (*data.Download, error) {
	return r.getDownload(id)
}

func (r *InMemoryRepo) getDownload(id string) (*data.Download, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, err := r.findDownload(id)
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

func (r *InMemoryRepo) ListByTorrent(ctx context.Context, torrentID string) (data.DownloadList, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.torrents[torrentID]
	if !ok {
		return nil, data.ErrNotFound
	}
	return t.Downloads.Clone(), nil
}

// findDownload must be called with the lock held.
func (r *InMemoryRepo) findDownload(id string) (*data.Download, error) {
	for _, t := range r.torrents {
		for _, d := range t.Downloads {
			if d.ID == id {
				return d, nil
			}
		}
	}
	return nil, data.ErrNotFound
}

func (r *InMemoryRepo) updateDownload(id string, fn func(d *data.Download)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.findDownload(id)
	if err != nil {
		return err
	}
	fn(d)
	return nil
}

func (r *InMemoryRepo) UpdateLink(ctx context.Context, id string, link string) error {
	return r.updateDownload(id, func(d *data.Download) { d.Link = link })
}

func (r *InMemoryRepo) UpdateDownloadStarted(ctx context.Context, id string, ts *time.Time) error {
	return r.updateDownload(id, func(d *data.Download) { d.DownloadStarted = ts })
}

func (r *InMemoryRepo) MarkDownloadFinished(ctx context.Context, id string, ts time.Time) error {
	return r.updateDownload(id, func(d *data.Download) {
		d.DownloadFinished = &ts
		d.UnpackingQueued = &ts
	})
}

func (r *InMemoryRepo) UpdateUnpackingStarted(ctx context.Context, id string, ts *time.Time) error {
	return r.updateDownload(id, func(d *data.Download) { d.UnpackingStarted = ts })
}

func (r *InMemoryRepo) UpdateUnpackingFinished(ctx context.Context, id string, ts time.Time) error {
	return r.updateDownload(id, func(d *data.Download) { d.UnpackingFinished = &ts })
}

func (r *InMemoryRepo) MarkUnpackSkipped(ctx context.Context, id string, ts time.Time) error {
	return r.updateDownload(id, func(d *data.Download) {
		d.UnpackingStarted = &ts
		d.UnpackingFinished = &ts
		d.Completed = &ts
	})
}

func (r *InMemoryRepo) UpdateCompleted(ctx context.Context, id string, ts time.Time) error {
	return r.updateDownload(id, func(d *data.Download) { d.Completed = &ts })
}

func (r *InMemoryRepo) UpdateError(ctx context.Context, id string, msg string) error {
	return r.updateDownload(id, func(d *data.Download) { d.Error = msg })
}

func (r *InMemoryRepo) UpdateRetryCount(ctx context.Context, id string, count int) error {
	return r.updateDownload(id, func(d *data.Download) { d.RetryCount = count })
}

func (r *InMemoryRepo) UpdateProgress(ctx context.Context, id string, done, total int64) error {
	return r.updateDownload(id, func(d *data.Download) {
		d.BytesDone = done
		d.BytesTotal = total
	})
}

func (r *InMemoryRepo) Reset(ctx context.Context, id string) error {
	return r.updateDownload(id, func(d *data.Download) {
		d.DownloadStarted = nil
		d.DownloadFinished = nil
		d.UnpackingQueued = nil
		d.UnpackingStarted = nil
		d.UnpackingFinished = nil
		d.Completed = nil
		d.Error = ""
		d.RemoteID = ""
		d.Link = ""
		d.BytesDone = 0
	})
}

func (r *InMemoryRepo) UpdateRemoteIDs(ctx context.Context, ids map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, remote := range ids {
		d, err := r.findDownload(id)
		if err != nil {
			return err
		}
		d.RemoteID = remote
	}
	return nil
}

func (r *InMemoryRepo) UpdateErrors(ctx context.Context, errs map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, msg := range errs {
		d, err := r.findDownload(id)
		if err != nil {
			return err
		}
		d.Error = msg
	}
	return nil
}
