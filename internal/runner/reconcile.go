package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinoosan/debrix/internal/data"
)

// processRetries handles explicit retry requests (phase d). The facade owns
// incrementing the counter and re-submitting; a request past the budget only
// clears the marker. Returns the IDs resubmitted this tick, whose snapshots
// are stale and skip the rest of the pass.
func (r *Runner) processRetries(ctx context.Context, lg *slog.Logger, list data.Torrents) map[string]bool {
	retried := make(map[string]bool)
	for _, t := range list {
		if t.Retry == nil {
			continue
		}
		if t.RetryCount > t.TorrentRetryAttempts {
			if err := r.torrents.UpdateRetry(ctx, t.ID, nil, t.RetryCount); err != nil {
				r.recordTorrentError(ctx, lg, t.ID, err)
			}
			continue
		}
		lg.Info("retrying torrent", "id", t.ID, "attempt", t.RetryCount+1)
		if err := r.torrents.RetryTorrent(ctx, t.ID, t.RetryCount); err != nil {
			r.recordTorrentError(ctx, lg, t.ID, err)
			continue
		}
		retried[t.ID] = true
	}
	return retried
}

// processErrorTTL deletes error-terminal torrents whose retention window has
// passed (phase e). Returns the IDs removed so later phases skip them.
func (r *Runner) processErrorTTL(ctx context.Context, lg *slog.Logger, list data.Torrents) map[string]bool {
	deleted := make(map[string]bool)
	for _, t := range list {
		if t.Error == "" || t.DeleteOnError <= 0 || t.Completed == nil {
			continue
		}
		ttl := time.Duration(t.DeleteOnError) * time.Minute
		if time.Now().Before(t.Completed.Add(ttl)) {
			continue
		}
		lg.Info("deleting errored torrent past retention", "id", t.ID, "age", time.Since(*t.Completed))
		if err := r.torrents.Delete(ctx, t.ID, true, true, true); err != nil {
			r.recordTorrentError(ctx, lg, t.ID, err)
			continue
		}
		deleted[t.ID] = true
	}
	return deleted
}

// processLifetime expires torrents that produced no downloads within their
// lifetime (phase f). Expiry burns the retry budget so automatic retries
// stop.
func (r *Runner) processLifetime(ctx context.Context, lg *slog.Logger, list data.Torrents) {
	for _, t := range list {
		if len(t.Downloads) > 0 || t.Completed != nil || t.Lifetime <= 0 {
			continue
		}
		age := time.Duration(t.Lifetime) * time.Minute
		if time.Now().Before(t.Added.Add(age)) {
			continue
		}
		msg := fmt.Sprintf("Torrent lifetime of %d minutes reached", t.Lifetime)
		lg.Warn("torrent expired", "id", t.ID, "lifetime", t.Lifetime)
		now := time.Now()
		if err := r.torrents.UpdateComplete(ctx, t.ID, msg, now, true); err != nil {
			r.recordTorrentError(ctx, lg, t.ID, err)
			continue
		}
		t.Completed = &now
	}
}

// reconcileTorrent runs the per-torrent state machine (phase g). Any step
// error is recorded as a terminal torrent error and the tick moves on to the
// next torrent.
func (r *Runner) reconcileTorrent(ctx context.Context, lg *slog.Logger, t *data.Torrent) {
	if err := r.runSteps(ctx, lg, t); err != nil {
		r.recordTorrentError(ctx, lg, t.ID, err)
	}
}

func (r *Runner) runSteps(ctx context.Context, lg *slog.Logger, t *data.Torrent) error {
	// Remote error: record the raw remote status and stop working on this
	// torrent.
	if t.RdStatus == data.RdStatusError {
		msg := t.RdStatusRaw
		if msg == "" {
			msg = "remote torrent error"
		}
		lg.Warn("remote torrent errored", "id", t.ID, "status", msg)
		return r.torrents.UpdateComplete(ctx, t.ID, msg, time.Now(), false)
	}

	// File selection. The selection timestamp lands in the store only; the
	// loaded snapshot keeps its pre-selection view, so download creation
	// happens on the following tick.
	if (t.RdStatus == data.RdStatusWaitingForFileSelection || t.RdStatus == data.RdStatusFinished) &&
		t.FilesSelected == nil && len(t.Downloads) == 0 {
		if err := r.torrents.SelectFiles(ctx, t.ID); err != nil {
			return fmt.Errorf("select files: %w", err)
		}
		if err := r.torrents.UpdateFilesSelected(ctx, t.ID, time.Now()); err != nil {
			return fmt.Errorf("update files selected: %w", err)
		}
		lg.Info("files selected", "id", t.ID)
	}

	// Download creation. New rows are picked up by the starter on the next
	// tick.
	if t.RdStatus == data.RdStatusFinished && len(t.Downloads) == 0 &&
		t.FilesSelected != nil && t.HostDownloadAction == data.DownloadAll {
		if err := r.torrents.CreateDownloads(ctx, t.ID); err != nil {
			return fmt.Errorf("create downloads: %w", err)
		}
		lg.Info("downloads created", "id", t.ID)
	}

	if err := r.startDownloads(ctx, lg, t); err != nil {
		return err
	}
	if err := r.startUnpacks(ctx, lg, t); err != nil {
		return err
	}

	return r.finishTorrent(ctx, lg, t)
}

// finishTorrent computes aggregate progress and applies the finish action
// once every download has completed.
func (r *Runner) finishTorrent(ctx context.Context, lg *slog.Logger, t *data.Torrent) error {
	if len(t.Downloads) == 0 && !(t.RdStatus == data.RdStatusFinished && t.HostDownloadAction == data.DownloadNone) {
		return nil
	}

	complete := 0
	var totalBytes, doneBytes int64
	for _, d := range t.Downloads {
		if d.Completed != nil {
			complete++
		}
		totalBytes += d.BytesTotal
		doneBytes += d.BytesDone
	}
	if totalBytes > 0 {
		lg.Debug("torrent progress", "id", t.ID, "pct", doneBytes*100/totalBytes, "complete", complete, "total", len(t.Downloads))
	}
	if complete != len(t.Downloads) {
		return nil
	}

	if err := r.torrents.UpdateComplete(ctx, t.ID, "", time.Now(), false); err != nil {
		return fmt.Errorf("mark torrent complete: %w", err)
	}
	lg.Info("torrent complete", "id", t.ID, "action", t.FinishedAction)

	switch t.FinishedAction {
	case data.FinishedActionRemoveAll:
		if err := r.torrents.Delete(ctx, t.ID, true, true, false); err != nil {
			return fmt.Errorf("finish action: %w", err)
		}
	case data.FinishedActionRemoveRealDebrid:
		if err := r.torrents.Delete(ctx, t.ID, false, true, false); err != nil {
			return fmt.Errorf("finish action: %w", err)
		}
	case data.FinishedActionRemoveClient:
		if err := r.torrents.Delete(ctx, t.ID, true, false, false); err != nil {
			return fmt.Errorf("finish action: %w", err)
		}
	}

	// Best-effort post-hook; failures log but never fail the torrent.
	if err := r.torrents.RunTorrentComplete(ctx, t.ID); err != nil {
		lg.Error(err.Error())
	}
	return nil
}

// recordTorrentError marks the torrent terminally failed with the step's
// message and lets the tick continue with the next torrent.
func (r *Runner) recordTorrentError(ctx context.Context, lg *slog.Logger, id string, err error) {
	lg.Error("reconcile torrent", "id", id, "err", err)
	if uerr := r.torrents.UpdateComplete(ctx, id, err.Error(), time.Now(), false); uerr != nil {
		lg.Error("record torrent error", "id", id, "err", uerr)
	}
}
