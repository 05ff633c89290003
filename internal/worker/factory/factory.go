// Package factory builds workers for the configured download backend.
package factory

import (
	"log/slog"

	"github.com/tinoosan/debrix/internal/config"
	"github.com/tinoosan/debrix/internal/data"
	"github.com/tinoosan/debrix/internal/repo"
	"github.com/tinoosan/debrix/internal/worker"
	"github.com/tinoosan/debrix/internal/worker/aria2dl"
	"github.com/tinoosan/debrix/internal/worker/httpdl"
	"github.com/tinoosan/debrix/internal/worker/symlink"
	"github.com/tinoosan/debrix/internal/worker/unpack"
)

type Factory struct {
	cfg   *config.Config
	dls   repo.DownloadRepo
	log   *slog.Logger
	aria2 *aria2dl.Client
}

// New wires the factory. aria2 may be nil when the aria2 backend is not
// configured.
func New(cfg *config.Config, dls repo.DownloadRepo, log *slog.Logger, aria2 *aria2dl.Client) *Factory {
	if log == nil {
		log = slog.Default()
	}
	return &Factory{cfg: cfg, dls: dls, log: log, aria2: aria2}
}

func (f *Factory) DownloadWorker(dl *data.Download, t *data.Torrent, dir string) (worker.DownloadWorker, error) {
	switch f.cfg.Client() {
	case worker.ClientAria2:
		return aria2dl.NewWorker(f.aria2, f.dls, f.log, dl, dir), nil
	case worker.ClientSymlink:
		return symlink.NewWorker(dl, t, dir, f.cfg.DownloadClient.MountPath), nil
	default:
		return httpdl.NewWorker(f.dls, f.log, dl, dir), nil
	}
}

func (f *Factory) UnpackWorker(dl *data.Download, dir string) (worker.UnpackWorker, error) {
	return unpack.NewWorker(f.log, dl, dir), nil
}
