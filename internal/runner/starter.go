package runner

import (
	"context"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tinoosan/debrix/internal/data"
	"github.com/tinoosan/debrix/internal/worker"
	"golang.org/x/time/rate"
)

// startInterval is the mandatory spacing between successive download starts
// within one torrent. It rate-limits against the debrid link-issuance API.
const startInterval = 100 * time.Millisecond

// archiveExtensions are the only extensions that get an unpack stage.
var archiveExtensions = map[string]bool{
	".rar": true,
	".zip": true,
}

// startDownloads starts queued downloads for one torrent while the global
// cap allows. Links are resolved one at a time in the loop; the worker Start
// calls fan out concurrently, and their results are joined and written back in
// two batch updates.
func (r *Runner) startDownloads(ctx context.Context, lg *slog.Logger, t *data.Torrent) error {
	pending := pendingDownloads(t)
	if len(pending) == 0 {
		return nil
	}

	limiter := rate.NewLimiter(rate.Every(startInterval), 1)
	var wg sync.WaitGroup
	var mu sync.Mutex
	remoteIDs := make(map[string]string)
	startErrs := make(map[string]string)

	for _, d := range pending {
		// Checking the cap before each start means slots freed by this
		// tick's sweep are usable, but queued overflow simply waits for a
		// later tick.
		if r.reg.DownloadCount() >= r.cfg.DownloadLimit() {
			break
		}
		if _, ok := r.reg.Download(d.ID); ok {
			lg.Warn("download already active, state desync", "id", d.ID)
			break
		}

		if d.Link == "" {
			link, err := r.torrents.UnrestrictLink(ctx, d.ID)
			if err != nil {
				if uerr := r.dls.UpdateError(ctx, d.ID, err.Error()); uerr != nil {
					return uerr
				}
				if uerr := r.dls.UpdateCompleted(ctx, d.ID, time.Now()); uerr != nil {
					return uerr
				}
				lg.Error("unrestrict link", "id", d.ID, "err", err)
				break
			}
			d.Link = link
		}

		if err := limiter.Wait(ctx); err != nil {
			break
		}

		now := time.Now()
		if err := r.dls.UpdateDownloadStarted(ctx, d.ID, &now); err != nil {
			return err
		}

		w, err := r.factory.DownloadWorker(d, t, r.downloadDir(t))
		if err != nil {
			return err
		}
		r.reg.AddDownload(d.ID, w)
		lg.Info("starting download", "id", d.ID, "torrent", t.ID)

		wg.Add(1)
		go func(id string, w worker.DownloadWorker) {
			defer wg.Done()
			remoteID, err := w.Start(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				startErrs[id] = err.Error()
				return
			}
			if remoteID != "" {
				remoteIDs[id] = remoteID
			}
		}(d.ID, w)
	}

	wg.Wait()
	if len(remoteIDs) > 0 {
		if err := r.dls.UpdateRemoteIDs(ctx, remoteIDs); err != nil {
			return err
		}
	}
	if len(startErrs) > 0 {
		if err := r.dls.UpdateErrors(ctx, startErrs); err != nil {
			return err
		}
	}
	return nil
}

// startUnpacks starts queued unpacks for one torrent. Unlike download
// starts, hitting the cap moves on to the next download instead of breaking,
// so later downloads still get their link, extension and symlink checks on
// the same tick.
func (r *Runner) startUnpacks(ctx context.Context, lg *slog.Logger, t *data.Torrent) error {
	pending := pendingUnpacks(t)

	for _, d := range pending {
		if d.Link == "" {
			if err := r.dls.UpdateError(ctx, d.ID, "Download Link cannot be null"); err != nil {
				return err
			}
			if err := r.dls.UpdateCompleted(ctx, d.ID, time.Now()); err != nil {
				return err
			}
			continue
		}

		if !archiveExtensions[strings.ToLower(filepath.Ext(fileNameFromLink(d.Link)))] {
			if err := r.dls.MarkUnpackSkipped(ctx, d.ID, time.Now()); err != nil {
				return err
			}
			continue
		}

		if r.cfg.Client() == worker.ClientSymlink {
			if err := r.dls.UpdateError(ctx, d.ID, "Will not unzip with SymlinkDownloader!"); err != nil {
				return err
			}
			if err := r.dls.UpdateCompleted(ctx, d.ID, time.Now()); err != nil {
				return err
			}
			continue
		}

		if r.reg.UnpackCount() >= r.cfg.UnpackLimit() {
			continue
		}
		if _, ok := r.reg.Unpack(d.ID); ok {
			continue
		}

		now := time.Now()
		if err := r.dls.UpdateUnpackingStarted(ctx, d.ID, &now); err != nil {
			return err
		}
		w, err := r.factory.UnpackWorker(d, r.downloadDir(t))
		if err != nil {
			return err
		}
		r.reg.AddUnpack(d.ID, w)
		lg.Info("starting unpack", "id", d.ID, "torrent", t.ID)
		w.Start(ctx)
	}
	return nil
}

// pendingDownloads returns the torrent's queued-but-unstarted downloads in
// downloadQueued ascending order.
func pendingDownloads(t *data.Torrent) data.DownloadList {
	var out data.DownloadList
	for _, d := range t.Downloads {
		if d.Completed == nil && !d.Queued.IsZero() && d.DownloadStarted == nil && d.Error == "" {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Queued.Before(out[j].Queued) })
	return out
}

// pendingUnpacks returns the torrent's unpack-queued downloads, also in
// downloadQueued ascending order.
func pendingUnpacks(t *data.Torrent) data.DownloadList {
	var out data.DownloadList
	for _, d := range t.Downloads {
		if d.Completed == nil && d.UnpackingQueued != nil && d.UnpackingStarted == nil && d.Error == "" {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Queued.Before(out[j].Queued) })
	return out
}

// fileNameFromLink extracts the URL's last path segment, URL-decoded.
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
