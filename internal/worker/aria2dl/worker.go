package aria2dl

import (
	"context"
	"log/slog"
	"net/url"
	"path"
	"sync"

	"github.com/tinoosan/debrix/internal/data"
	"github.com/tinoosan/debrix/internal/repo"
	"github.com/tinoosan/debrix/internal/worker"
)

// Worker tracks one transfer inside the aria2 daemon. It never moves bytes
// itself: Start submits the URI and the per-tick bulk poll feeds status back
// through Update.
type Worker struct {
	cl   *Client
	dls  repo.DownloadWriter
	log  *slog.Logger
	dl   *data.Download
	dir  string

	mu       sync.RWMutex
	gid      string
	finished bool
	errMsg   string
}

func NewWorker(cl *Client, dls repo.DownloadWriter, log *slog.Logger, dl *data.Download, dir string) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{cl: cl, dls: dls, log: log, dl: dl, dir: dir}
}

var (
	_ worker.DownloadWorker = (*Worker)(nil)
	_ worker.BulkUpdatable  = (*Worker)(nil)
)

func (w *Worker) Type() worker.Client { return worker.ClientAria2 }

func (w *Worker) Start(ctx context.Context) (string, error) {
	out := fileNameFromLink(w.dl.Link)
	gid, err := w.cl.AddURI(ctx, w.dl.Link, w.dir, out)
	if err != nil {
		w.mu.Lock()
		w.errMsg = err.Error()
		w.finished = true
		w.mu.Unlock()
		return "", err
	}
	w.mu.Lock()
	w.gid = gid
	w.mu.Unlock()
	return gid, nil
}

func (w *Worker) Finished() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.finished
}

func (w *Worker) Error() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.errMsg
}

// Update consumes one tick's aggregated status list and applies the entry
// matching this worker's GID.
func (w *Worker) Update(statuses []worker.BulkStatus) {
	w.mu.RLock()
	gid := w.gid
	done := w.finished
	w.mu.RUnlock()
	if gid == "" || done {
		return
	}

	for _, st := range statuses {
		if st.RemoteID != gid {
			continue
		}
		if err := w.dls.UpdateProgress(context.Background(), w.dl.ID, st.BytesDone, st.BytesTotal); err != nil {
			w.log.Error("update progress", "id", w.dl.ID, "err", err)
		}
		switch st.Status {
		case "complete":
			w.mu.Lock()
			w.finished = true
			w.mu.Unlock()
		case "error":
			msg := st.ErrorMessage
			if msg == "" {
				msg = "aria2 reported an error"
			}
			w.mu.Lock()
			w.errMsg = msg
			w.finished = true
			w.mu.Unlock()
		case "removed":
			w.mu.Lock()
			w.errMsg = "aria2 transfer was removed"
			w.finished = true
			w.mu.Unlock()
		}
		return
	}

	// The daemon no longer knows this GID; it was purged or aria2
	// restarted. Treat as lost so the retry policy can re-queue it.
	w.mu.Lock()
	w.errMsg = "aria2 gid not found"
	w.finished = true
	w.mu.Unlock()
}

func fileNameFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	name, err := url.PathUnescape(path.Base(u.Path))
	if err != nil {
		return path.Base(u.Path)
	}
	return name
}
