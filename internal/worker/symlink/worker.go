// Package symlink materializes downloads as symlinks into an rclone mount of
// the debrid WebDAV. No bytes are transferred locally.
package symlink

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/tinoosan/debrix/internal/data"
	"github.com/tinoosan/debrix/internal/worker"
)

type Worker struct {
	dl        *data.Download
	t         *data.Torrent
	dir       string
	mountPath string

	mu       sync.RWMutex
	finished bool
	errMsg   string
}

func NewWorker(dl *data.Download, t *data.Torrent, dir, mountPath string) *Worker {
	return &Worker{dl: dl, t: t, dir: dir, mountPath: mountPath}
}

var _ worker.DownloadWorker = (*Worker)(nil)

func (w *Worker) Type() worker.Client { return worker.ClientSymlink }

// Start resolves the file inside the mount and links it into the download
// path. The mount exposes torrents by their remote folder name, so the file
// lives under <mount>/<torrent name>/<file> or directly under <mount> for
// single-file torrents.
func (w *Worker) Start(ctx context.Context) (string, error) {
	err := w.link()
	w.mu.Lock()
	if err != nil {
		w.errMsg = err.Error()
	}
	w.finished = true
	w.mu.Unlock()
	return "", err
}

func (w *Worker) link() error {
	name := fileName(w.dl)
	if name == "" {
		return fmt.Errorf("cannot derive file name for %s", w.dl.ID)
	}

	candidates := []string{
		filepath.Join(w.mountPath, w.t.Name, name),
		filepath.Join(w.mountPath, name),
	}
	var src string
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			src = c
			break
		}
	}
	if src == "" {
		return fmt.Errorf("%s not found under mount %s", name, w.mountPath)
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(w.dir, name)
	if _, err := os.Lstat(dst); err == nil {
		if err := os.Remove(dst); err != nil {
			return err
		}
	}
	return os.Symlink(src, dst)
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

func fileName(dl *data.Download) string {
	if dl.Path != "" {
		return path.Base(dl.Path)
	}
	u, err := url.Parse(dl.Link)
	if err != nil {
		return ""
	}
	name, err := url.PathUnescape(path.Base(u.Path))
	if err != nil {
		return ""
	}
	return name
}
