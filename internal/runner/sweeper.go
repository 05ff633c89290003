package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tinoosan/debrix/internal/data"
	"github.com/tinoosan/debrix/internal/metrics"
)

// sweepDownloads promotes finished download workers to their next lifecycle
// step, applying the per-download retry policy.
func (r *Runner) sweepDownloads(ctx context.Context, lg *slog.Logger) {
	for id, w := range r.reg.Downloads() {
		if !w.Finished() {
			continue
		}

		dl, err := r.dls.GetDownload(ctx, id)
		if errors.Is(err, data.ErrNotFound) {
			// Row deleted out from under us; drop the entry.
			r.reg.RemoveDownload(id)
			continue
		}
		if err != nil {
			lg.Error("load download", "id", id, "err", err)
			continue
		}

		if msg := w.Error(); msg != "" {
			if err := r.failOrRetryDownload(ctx, lg, dl, msg); err != nil {
				lg.Error("apply download failure", "id", id, "err", err)
				continue
			}
		} else {
			if err := r.dls.MarkDownloadFinished(ctx, id, time.Now()); err != nil {
				lg.Error("mark download finished", "id", id, "err", err)
				continue
			}
			lg.Info("download finished", "id", id)
		}
		r.reg.RemoveDownload(id)
	}
}

// failOrRetryDownload resets the download for another attempt while the
// retry budget lasts, then records the terminal failure.
func (r *Runner) failOrRetryDownload(ctx context.Context, lg *slog.Logger, dl *data.Download, msg string) error {
	t, err := r.trepo.Get(ctx, dl.TorrentID)
	if err != nil {
		return err
	}
	if dl.RetryCount < t.DownloadRetryAttempts {
		if err := r.dls.Reset(ctx, dl.ID); err != nil {
			return err
		}
		if err := r.dls.UpdateRetryCount(ctx, dl.ID, dl.RetryCount+1); err != nil {
			return err
		}
		metrics.DownloadRetries.Inc()
		lg.Info("download reset for retry", "id", dl.ID, "attempt", dl.RetryCount+1, "err", msg)
		return nil
	}
	if err := r.dls.UpdateError(ctx, dl.ID, msg); err != nil {
		return err
	}
	if err := r.dls.UpdateCompleted(ctx, dl.ID, time.Now()); err != nil {
		return err
	}
	lg.Warn("download failed terminally", "id", dl.ID, "err", msg)
	return nil
}

// sweepUnpacks promotes finished unpack workers. No retry policy applies to
// unpacks; any error is terminal.
func (r *Runner) sweepUnpacks(ctx context.Context, lg *slog.Logger) {
	for id, w := range r.reg.Unpacks() {
		if !w.Finished() {
			continue
		}

		now := time.Now()
		if msg := w.Error(); msg != "" {
			if err := r.dls.UpdateError(ctx, id, msg); err != nil {
				lg.Error("record unpack error", "id", id, "err", err)
				continue
			}
			if err := r.dls.UpdateCompleted(ctx, id, now); err != nil {
				lg.Error("complete failed unpack", "id", id, "err", err)
				continue
			}
			lg.Warn("unpack failed", "id", id, "err", msg)
		} else {
			if err := r.dls.UpdateUnpackingFinished(ctx, id, now); err != nil {
				lg.Error("mark unpack finished", "id", id, "err", err)
				continue
			}
			if err := r.dls.UpdateCompleted(ctx, id, now); err != nil {
				lg.Error("complete unpacked download", "id", id, "err", err)
				continue
			}
			lg.Info("unpack finished", "id", id)
		}
		r.reg.RemoveUnpack(id)
	}
}
