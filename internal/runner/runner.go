// Package runner is the reconciliation core: a single periodic tick that
// inspects the persistent torrent set, merges it with the in-memory worker
// registries and drives every torrent toward completion or terminal failure.
package runner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/debrix/internal/config"
	"github.com/tinoosan/debrix/internal/data"
	"github.com/tinoosan/debrix/internal/metrics"
	"github.com/tinoosan/debrix/internal/registry"
	"github.com/tinoosan/debrix/internal/repo"
	"github.com/tinoosan/debrix/internal/service"
	"github.com/tinoosan/debrix/internal/worker"
)

// slowTick is the wall-time threshold above which a tick logs its duration.
const slowTick = time.Second

// WorkerFactory builds workers for the configured backend.
type WorkerFactory interface {
	DownloadWorker(dl *data.Download, t *data.Torrent, dir string) (worker.DownloadWorker, error)
	UnpackWorker(dl *data.Download, dir string) (worker.UnpackWorker, error)
}

// ProgressReporter receives the end-of-tick push of current state.
type ProgressReporter interface {
	Update()
}

// Runner owns the tick loop. Tick must not be invoked concurrently with
// itself; the external driver serializes invocations.
type Runner struct {
	log      *slog.Logger
	cfg      *config.Config
	torrents service.Torrents
	trepo    repo.TorrentReader
	dls      repo.DownloadRepo
	reg      *registry.Registry
	factory  WorkerFactory
	bulk     worker.BulkStatusSource
	reporter ProgressReporter
}

func New(log *slog.Logger, cfg *config.Config, torrents service.Torrents, trepo repo.TorrentReader, dls repo.DownloadRepo, reg *registry.Registry, factory WorkerFactory, bulk worker.BulkStatusSource, reporter ProgressReporter) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		log:      log,
		cfg:      cfg,
		torrents: torrents,
		trepo:    trepo,
		dls:      dls,
		reg:      reg,
		factory:  factory,
		bulk:     bulk,
		reporter: reporter,
	}
}

// Tick runs one full reconciliation pass. Nothing propagates past its
// boundary; every failure is logged or recorded on the affected torrent so
// the driver can always schedule the next tick.
func (r *Runner) Tick(ctx context.Context) {
	started := time.Now()
	metrics.Ticks.Inc()
	lg := r.log.With("operation_id", uuid.NewString())

	if !r.validate(lg) {
		return
	}

	// Snapshot the store up front: writes issued by this tick's sweeps and
	// starters become visible to the state machine on the next tick.
	list, err := r.torrents.Get(ctx)
	if err != nil {
		lg.Error("list torrents", "err", err)
		return
	}

	r.pollBulkStatus(ctx, lg)
	r.sweepDownloads(ctx, lg)
	r.sweepUnpacks(ctx, lg)

	retried := r.processRetries(ctx, lg, list)
	deleted := r.processErrorTTL(ctx, lg, list)
	r.processLifetime(ctx, lg, list)

	for _, t := range list {
		if t.Completed != nil || deleted[t.ID] || retried[t.ID] {
			continue
		}
		r.reconcileTorrent(ctx, lg, t)
	}

	if r.reporter != nil {
		r.reporter.Update()
	}

	metrics.ActiveDownloadWorkers.Set(float64(r.reg.DownloadCount()))
	metrics.ActiveUnpackWorkers.Set(float64(r.reg.UnpackCount()))

	elapsed := time.Since(started)
	metrics.TickDuration.Observe(elapsed.Seconds())
	if elapsed > slowTick {
		lg.Warn("slow tick", "duration", elapsed)
	}
}

// validate checks the configuration gates from the tick contract. A failed
// gate makes the tick a no-op.
func (r *Runner) validate(lg *slog.Logger) bool {
	if r.cfg.Provider.APIKey == "" {
		lg.Debug("provider api key not set, skipping tick")
		return false
	}
	if r.cfg.Client() == worker.ClientSymlink {
		if _, err := os.Stat(r.cfg.DownloadClient.MountPath); err != nil {
			lg.Warn("mount path not accessible, skipping tick", "path", r.cfg.DownloadClient.MountPath, "err", err)
			return false
		}
	}
	if r.cfg.DownloadClient.DownloadPath == "" {
		lg.Error("download path is not configured")
		return false
	}
	return true
}

// downloadDir is the per-torrent target directory: the configured download
// path with the lower-cased category appended when present.
func (r *Runner) downloadDir(t *data.Torrent) string {
	base := r.cfg.DownloadClient.DownloadPath
	if t.Category == "" {
		return base
	}
	return filepath.Join(base, strings.ToLower(t.Category))
}
