// Package unpack extracts finished archive downloads in place.
package unpack

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mholt/archives"
	"github.com/tinoosan/debrix/internal/data"
	"github.com/tinoosan/debrix/internal/worker"
)

// Worker extracts one archive on its own goroutine. There is no retry policy
// for unpacks; any failure is terminal for the download.
type Worker struct {
	log *slog.Logger
	dl  *data.Download
	dir string

	mu       sync.RWMutex
	finished bool
	errMsg   string
}

func NewWorker(log *slog.Logger, dl *data.Download, dir string) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{log: log, dl: dl, dir: dir}
}

var _ worker.UnpackWorker = (*Worker)(nil)

func (w *Worker) Start(ctx context.Context) {
	go w.run()
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
	err := w.extract()
	w.mu.Lock()
	if err != nil {
		w.errMsg = err.Error()
	}
	w.finished = true
	w.mu.Unlock()
}

func (w *Worker) extract() error {
	name := fileNameFromLink(w.dl.Link)
	archivePath := filepath.Join(w.dir, name)

	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	ctx := context.Background()
	format, stream, err := archives.Identify(ctx, name, f)
	if err != nil {
		return fmt.Errorf("identify %s: %w", name, err)
	}
	ex, ok := format.(archives.Extractor)
	if !ok {
		return fmt.Errorf("%s is not an extractable archive", name)
	}

	err = ex.Extract(ctx, stream, func(ctx context.Context, fi archives.FileInfo) error {
		target, err := sanitizePath(w.dir, fi.NameInArchive)
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		src, err := fi.Open()
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()
		dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
		if err != nil {
			return err
		}
		_, err = io.Copy(dst, src)
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("extract %s: %w", name, err)
	}

	// The archive is redundant once its contents are on disk.
	if err := os.Remove(archivePath); err != nil {
		w.log.Warn("remove archive", "path", archivePath, "err", err)
	}
	return nil
}

// sanitizePath rejects entries that would escape the extraction root.
func sanitizePath(root, name string) (string, error) {
	target := filepath.Join(root, name)
	if !strings.HasPrefix(target, filepath.Clean(root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes %s", name, root)
	}
	return target, nil
}

func fileNameFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return path.Base(link)
	}
	name, err := url.PathUnescape(path.Base(u.Path))
	if err != nil {
		return path.Base(u.Path)
	}
	return name
}
