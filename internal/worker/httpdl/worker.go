// Package httpdl downloads unrestricted links over plain HTTP inside this
// process.
package httpdl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinoosan/debrix/internal/data"
	"github.com/tinoosan/debrix/internal/repo"
	"github.com/tinoosan/debrix/internal/worker"
)

// progressInterval bounds how often the worker writes progress back to the
// store.
const progressInterval = 2 * time.Second

// Worker streams one download to disk on its own goroutine. Start returns as
// soon as the transfer is dispatched; Finished flips when the copy ends.
type Worker struct {
	dls  repo.DownloadWriter
	log  *slog.Logger
	http *http.Client
	dl   *data.Download
	dir  string

	mu       sync.RWMutex
	finished bool
	errMsg   string

	done, total atomic.Int64
}

func NewWorker(dls repo.DownloadWriter, log *slog.Logger, dl *data.Download, dir string) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{dls: dls, log: log, http: &http.Client{}, dl: dl, dir: dir}
}

var _ worker.DownloadWorker = (*Worker)(nil)

func (w *Worker) Type() worker.Client { return worker.ClientInternal }

// Start validates the target and launches the transfer. The transfer is not
// cancellable from the tick; it runs until the copy ends or fails.
func (w *Worker) Start(ctx context.Context) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		w.fail(err.Error())
		return "", err
	}
	go w.run()
	return "", nil
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

func (w *Worker) run() {
	if err := w.fetch(); err != nil {
		w.log.Error("download failed", "id", w.dl.ID, "err", err)
		w.fail(err.Error())
		return
	}
	w.flushProgress()
	w.mu.Lock()
	w.finished = true
	w.mu.Unlock()
}

func (w *Worker) fetch() error {
	resp, err := w.http.Get(w.dl.Link)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d fetching %s", resp.StatusCode, w.dl.Link)
	}
	w.total.Store(resp.ContentLength)

	name := fileName(w.dl)
	tmp := filepath.Join(w.dir, name+".part")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(progressInterval)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				w.flushProgress()
			}
		}
	}()

	_, err = io.Copy(f, io.TeeReader(resp.Body, &countWriter{n: &w.done}))
	ticker.Stop()
	close(stop)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filepath.Join(w.dir, name))
}

func (w *Worker) flushProgress() {
	err := w.dls.UpdateProgress(context.Background(), w.dl.ID, w.done.Load(), w.total.Load())
	if err != nil {
		w.log.Error("update progress", "id", w.dl.ID, "err", err)
	}
}

func (w *Worker) fail(msg string) {
	w.mu.Lock()
	w.errMsg = msg
	w.finished = true
	w.mu.Unlock()
}

type countWriter struct {
	n *atomic.Int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	c.n.Add(int64(len(p)))
	return len(p), nil
}

func fileName(dl *data.Download) string {
	if u, err := url.Parse(dl.Link); err == nil {
		if name, err := url.PathUnescape(path.Base(u.Path)); err == nil && name != "" && name != "." && name != "/" {
			return name
		}
	}
	return path.Base(dl.Path)
}
