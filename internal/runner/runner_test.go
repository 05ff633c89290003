package runner

import (
	"context"
	"testing"
	"time"

	"github.com/tinoosan/debrix/internal/data"
)

// TestHappyPathSingleFile walks one torrent from file selection through
// download, unpack skip and torrent completion across ticks.
func TestHappyPathSingleFile(t *testing.T) {
	e := newEnv(t)
	tor := e.addTorrent(t, func(tr *data.Torrent) {
		tr.RdLinks = []string{"https://rd/file.mkv"}
	})

	// Tick 1: files selected.
	e.tick()
	if got := e.rd.selectedIDs(); len(got) != 1 || got[0] != tor.RdID {
		t.Fatalf("expected one SelectFiles call for %s, got %v", tor.RdID, got)
	}
	if e.torrent(t, tor.ID).FilesSelected == nil {
		t.Fatalf("filesSelected not set")
	}

	// Tick 2: downloads created.
	e.tick()
	dls := e.torrent(t, tor.ID).Downloads
	if len(dls) != 1 {
		t.Fatalf("expected 1 download, got %d", len(dls))
	}
	if dls[0].DownloadStarted != nil {
		t.Fatalf("download started too early")
	}

	// Tick 3: link resolved, worker started.
	e.tick()
	d := e.download(t, dls[0].ID)
	if d.Link != "https://dl/file.mkv" {
		t.Fatalf("unexpected link %q", d.Link)
	}
	if d.DownloadStarted == nil {
		t.Fatalf("downloadStarted not set")
	}
	if e.reg.DownloadCount() != 1 {
		t.Fatalf("expected 1 active worker, got %d", e.reg.DownloadCount())
	}

	// Worker completes; tick 4 sweeps it into the unpack queue.
	e.fac.downloadWorkers()[0].finish("")
	e.tick()
	d = e.download(t, dls[0].ID)
	if d.DownloadFinished == nil || d.UnpackingQueued == nil {
		t.Fatalf("sweep did not promote download: %+v", d)
	}
	if e.reg.DownloadCount() != 0 {
		t.Fatalf("registry entry not removed")
	}

	// Tick 5: .mkv needs no unpack, the stage collapses in one write.
	e.tick()
	d = e.download(t, dls[0].ID)
	if d.UnpackingStarted == nil || d.UnpackingFinished == nil || d.Completed == nil {
		t.Fatalf("unpack skip incomplete: %+v", d)
	}
	if !d.UnpackingStarted.Equal(*d.UnpackingFinished) || !d.UnpackingFinished.Equal(*d.Completed) {
		t.Fatalf("unpack skip not a single write: %v %v %v", d.UnpackingStarted, d.UnpackingFinished, d.Completed)
	}
	if len(e.fac.unpackWorkers()) != 0 {
		t.Fatalf("unpack worker created for non-archive")
	}

	// Tick 6: torrent completes, no deletes for FinishedActionNone.
	e.tick()
	tor2 := e.torrent(t, tor.ID)
	if tor2.Completed == nil || tor2.Error != "" {
		t.Fatalf("torrent not completed cleanly: %+v", tor2)
	}
	if len(e.rd.deletedIDs()) != 0 {
		t.Fatalf("unexpected remote delete")
	}

	// Stage timestamps stay monotonic.
	assertMonotonic(t, e.download(t, dls[0].ID))
}

func assertMonotonic(t *testing.T, d *data.Download) {
	t.Helper()
	stages := []*time.Time{d.DownloadStarted, d.DownloadFinished, d.UnpackingQueued, d.UnpackingStarted, d.UnpackingFinished, d.Completed}
	prev := d.Queued
	for i, ts := range stages {
		if ts == nil {
			continue
		}
		if ts.Before(prev) {
			t.Fatalf("stage %d out of order: %v before %v", i, ts, prev)
		}
		prev = *ts
	}
}

// TestDownloadRetryThenGiveUp exercises the per-download retry budget: with
// two attempts allowed, exactly three workers run before the terminal error.
func TestDownloadRetryThenGiveUp(t *testing.T) {
	e := newEnv(t)
	e.fac.failStarts = true
	tor := e.addTorrent(t, func(tr *data.Torrent) {
		tr.DownloadRetryAttempts = 2
	})
	dls := e.seedDownloads(t, tor.ID, &data.Download{RdLink: "https://rd/file.mkv"})

	for i := 0; i < 8; i++ {
		e.tick()
	}

	if got := len(e.fac.downloadWorkers()); got != 3 {
		t.Fatalf("expected 3 worker starts, got %d", got)
	}
	d := e.download(t, dls[0].ID)
	if d.Error != "boom" {
		t.Fatalf("expected terminal error, got %q", d.Error)
	}
	if d.Completed == nil {
		t.Fatalf("download not completed after budget exhausted")
	}
	if d.RetryCount != 2 {
		t.Fatalf("retryCount = %d, want 2", d.RetryCount)
	}
	if e.reg.DownloadCount() != 0 {
		t.Fatalf("registry not drained")
	}
}

// TestCapEnforcement starts at most downloadLimit workers per tick and
// spaces successive starts by the mandatory interval.
func TestCapEnforcement(t *testing.T) {
	e := newEnv(t)
	e.cfg.General.DownloadLimit = 3
	tor := e.addTorrent(t, nil)
	base := time.Now().Add(-time.Minute)
	var seeds data.DownloadList
	for i := 0; i < 5; i++ {
		seeds = append(seeds, &data.Download{
			RdLink: "https://rd/file.mkv",
			Link:   "https://dl/file.mkv",
			Queued: base.Add(time.Duration(i) * time.Second),
		})
	}
	dls := e.seedDownloads(t, tor.ID, seeds...)

	e.tick()

	var started []time.Time
	for _, d := range dls {
		got := e.download(t, d.ID)
		if got.DownloadStarted != nil {
			started = append(started, *got.DownloadStarted)
		}
	}
	if len(started) != 3 {
		t.Fatalf("expected 3 starts, got %d", len(started))
	}
	if e.reg.DownloadCount() != 3 {
		t.Fatalf("registry size = %d, want 3", e.reg.DownloadCount())
	}
	for i := 1; i < len(started); i++ {
		if gap := started[i].Sub(started[i-1]); gap < 90*time.Millisecond {
			t.Fatalf("starts %d and %d only %v apart", i-1, i, gap)
		}
	}
	// The overflow stays queued for a later tick.
	for _, d := range dls[3:] {
		if e.download(t, d.ID).DownloadStarted != nil {
			t.Fatalf("download %s started past the cap", d.ID)
		}
	}
}

// TestCapFreesSlotNextTick verifies a slot freed by the sweep is reused on a
// later tick.
func TestCapFreesSlotNextTick(t *testing.T) {
	e := newEnv(t)
	e.cfg.General.DownloadLimit = 1
	tor := e.addTorrent(t, nil)
	dls := e.seedDownloads(t, tor.ID,
		&data.Download{RdLink: "https://rd/a.mkv", Link: "https://dl/a.mkv", Queued: time.Now().Add(-2 * time.Second)},
		&data.Download{RdLink: "https://rd/b.mkv", Link: "https://dl/b.mkv", Queued: time.Now().Add(-1 * time.Second)},
	)

	e.tick()
	if e.download(t, dls[1].ID).DownloadStarted != nil {
		t.Fatalf("second download started past the cap")
	}
	e.fac.downloadWorkers()[0].finish("")
	e.tick() // sweep frees the slot; the cap check that follows starts the second download
	e.tick() // a further tick leaves it started
	if e.download(t, dls[1].ID).DownloadStarted == nil {
		t.Fatalf("freed slot not reused")
	}
}

// TestLifetimeExpiry marks a download-less torrent failed once its lifetime
// passes and burns the retry budget.
func TestLifetimeExpiry(t *testing.T) {
	e := newEnv(t)
	tor := e.addTorrent(t, func(tr *data.Torrent) {
		tr.RdStatus = data.RdStatusDownloading
		tr.Lifetime = 10
		tr.Added = time.Now().Add(-11 * time.Minute)
		tr.TorrentRetryAttempts = 2
	})

	e.tick()

	got := e.torrent(t, tor.ID)
	if got.Completed == nil {
		t.Fatalf("torrent not completed")
	}
	if got.Error != "Torrent lifetime of 10 minutes reached" {
		t.Fatalf("unexpected error %q", got.Error)
	}
	if got.RetryCount != 2 {
		t.Fatalf("retry budget not burned: %d", got.RetryCount)
	}
	if got.Retry != nil {
		t.Fatalf("retry marker not cleared")
	}
}

// TestErrorTTLDelete removes an error-terminal torrent once its retention
// window passes.
func TestErrorTTLDelete(t *testing.T) {
	e := newEnv(t)
	completed := time.Now().Add(-6 * time.Minute)
	tor := e.addTorrent(t, func(tr *data.Torrent) {
		tr.RdID = "rd9"
		tr.Error = "remote failure"
		tr.DeleteOnError = 5
		tr.Completed = &completed
	})

	e.tick()

	if _, err := e.store.Get(context.Background(), tor.ID); err == nil {
		t.Fatalf("torrent row still present")
	}
	if got := e.rd.deletedIDs(); len(got) != 1 || got[0] != "rd9" {
		t.Fatalf("expected remote delete of rd9, got %v", got)
	}

	// Gone for good: the next tick sees nothing.
	e.tick()
	if got := e.rd.deletedIDs(); len(got) != 1 {
		t.Fatalf("delete repeated: %v", got)
	}
}

// TestErrorTTLKeepsFreshFailures leaves errored torrents alone inside the
// retention window.
func TestErrorTTLKeepsFreshFailures(t *testing.T) {
	e := newEnv(t)
	completed := time.Now().Add(-2 * time.Minute)
	tor := e.addTorrent(t, func(tr *data.Torrent) {
		tr.Error = "remote failure"
		tr.DeleteOnError = 5
		tr.Completed = &completed
	})

	e.tick()

	if _, err := e.store.Get(context.Background(), tor.ID); err != nil {
		t.Fatalf("torrent deleted inside retention window: %v", err)
	}
}

// TestRemoteErrorTerminal records the raw remote status and stops working on
// the torrent.
func TestRemoteErrorTerminal(t *testing.T) {
	e := newEnv(t)
	tor := e.addTorrent(t, func(tr *data.Torrent) {
		tr.RdStatus = data.RdStatusError
		tr.RdStatusRaw = "magnet_error"
	})

	e.tick()

	got := e.torrent(t, tor.ID)
	if got.Completed == nil || got.Error != "magnet_error" {
		t.Fatalf("remote error not recorded: %+v", got)
	}
	if len(e.rd.selectedIDs()) != 0 {
		t.Fatalf("SelectFiles called on errored torrent")
	}
}

// TestFinishedActions checks the delete-flag triple for each finish action.
func TestFinishedActions(t *testing.T) {
	cases := []struct {
		action       data.FinishedAction
		wantRemote   bool
		wantRowGone  bool
	}{
		{data.FinishedActionNone, false, false},
		{data.FinishedActionRemoveAll, true, true},
		{data.FinishedActionRemoveRealDebrid, false, true},
		{data.FinishedActionRemoveClient, true, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.action), func(t *testing.T) {
			e := newEnv(t)
			now := time.Now()
			tor := e.addTorrent(t, func(tr *data.Torrent) {
				tr.RdID = "rd42"
				tr.FinishedAction = tc.action
			})
			e.seedDownloads(t, tor.ID, &data.Download{
				RdLink:    "https://rd/file.mkv",
				Link:      "https://dl/file.mkv",
				Completed: &now,
			})

			e.tick()

			remote := len(e.rd.deletedIDs()) == 1
			if remote != tc.wantRemote {
				t.Fatalf("remote delete = %v, want %v", remote, tc.wantRemote)
			}
			_, err := e.store.Get(context.Background(), tor.ID)
			rowGone := err != nil
			if rowGone != tc.wantRowGone {
				t.Fatalf("row gone = %v, want %v", rowGone, tc.wantRowGone)
			}
			if !tc.wantRowGone {
				got := e.torrent(t, tor.ID)
				if got.Completed == nil || got.Error != "" {
					t.Fatalf("torrent not completed cleanly: %+v", got)
				}
			}
		})
	}
}

// TestDownloadNoneCompletesWithoutDownloads covers the DownloadNone intent:
// a finished remote torrent with no local downloads completes directly.
func TestDownloadNoneCompletesWithoutDownloads(t *testing.T) {
	e := newEnv(t)
	now := time.Now()
	tor := e.addTorrent(t, func(tr *data.Torrent) {
		tr.HostDownloadAction = data.DownloadNone
		tr.FilesSelected = &now
	})

	e.tick()

	got := e.torrent(t, tor.ID)
	if got.Completed == nil || got.Error != "" {
		t.Fatalf("torrent not completed: %+v", got)
	}
	if len(got.Downloads) != 0 {
		t.Fatalf("downloads created despite DownloadNone")
	}
}

// TestExplicitRetry delegates an in-budget retry to the facade and clears
// over-budget markers without touching the counter.
func TestExplicitRetry(t *testing.T) {
	t.Run("within budget", func(t *testing.T) {
		e := newEnv(t)
		now := time.Now()
		tor := e.addTorrent(t, func(tr *data.Torrent) {
			tr.Retry = &now
			tr.RetryCount = 0
			tr.TorrentRetryAttempts = 1
		})

		e.tick()

		got := e.torrent(t, tor.ID)
		if got.RetryCount != 1 {
			t.Fatalf("facade did not increment: %d", got.RetryCount)
		}
		if got.Retry != nil {
			t.Fatalf("retry marker survived resubmission")
		}
		if got.RdID != "rd-retry" {
			t.Fatalf("torrent not re-submitted: %q", got.RdID)
		}
	})

	t.Run("past budget", func(t *testing.T) {
		e := newEnv(t)
		now := time.Now()
		tor := e.addTorrent(t, func(tr *data.Torrent) {
			tr.Retry = &now
			tr.RetryCount = 2
			tr.TorrentRetryAttempts = 1
		})

		e.tick()

		got := e.torrent(t, tor.ID)
		if got.Retry != nil {
			t.Fatalf("retry marker not cleared")
		}
		if got.RetryCount != 2 {
			t.Fatalf("retryCount changed: %d", got.RetryCount)
		}
		if got.RdID != "rd1" {
			t.Fatalf("torrent re-submitted past budget")
		}
	})
}

// TestUnrestrictFailureTerminal marks the download failed and stops the
// torrent's start loop.
func TestUnrestrictFailureTerminal(t *testing.T) {
	e := newEnv(t)
	e.rd.unrestrictErr = context.DeadlineExceeded
	tor := e.addTorrent(t, nil)
	dls := e.seedDownloads(t, tor.ID,
		&data.Download{RdLink: "https://rd/a.mkv", Queued: time.Now().Add(-2 * time.Second)},
		&data.Download{RdLink: "https://rd/b.mkv", Queued: time.Now().Add(-1 * time.Second)},
	)

	e.tick()

	first := e.download(t, dls[0].ID)
	if first.Error == "" || first.Completed == nil {
		t.Fatalf("unrestrict failure not terminal: %+v", first)
	}
	// The loop broke: the second download was not touched.
	second := e.download(t, dls[1].ID)
	if second.Error != "" || second.DownloadStarted != nil {
		t.Fatalf("start loop did not break: %+v", second)
	}
}

func TestTickConfigGates(t *testing.T) {
	t.Run("missing api key", func(t *testing.T) {
		e := newEnv(t)
		e.cfg.Provider.APIKey = ""
		e.addTorrent(t, nil)
		e.tick()
		if len(e.rd.selectedIDs()) != 0 {
			t.Fatalf("tick ran without api key")
		}
	})

	t.Run("missing download path", func(t *testing.T) {
		e := newEnv(t)
		e.cfg.DownloadClient.DownloadPath = ""
		e.addTorrent(t, nil)
		e.tick()
		if len(e.rd.selectedIDs()) != 0 {
			t.Fatalf("tick ran without download path")
		}
	})

	t.Run("missing symlink mount", func(t *testing.T) {
		e := newEnv(t)
		e.cfg.DownloadClient.Client = "symlink"
		e.cfg.DownloadClient.MountPath = "/does/not/exist"
		e.addTorrent(t, nil)
		e.tick()
		if len(e.rd.selectedIDs()) != 0 {
			t.Fatalf("tick ran without mount path")
		}
	})
}
