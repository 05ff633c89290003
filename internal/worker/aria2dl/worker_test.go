package aria2dl

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tinoosan/debrix/internal/data"
	"github.com/tinoosan/debrix/internal/repo"
	"github.com/tinoosan/debrix/internal/worker"
)

func seedWorker(t *testing.T) (*Worker, *repo.InMemoryRepo, *data.Download) {
	t.Helper()
	store := repo.NewInMemoryRepo()
	ctx := context.Background()
	tor, err := store.Add(ctx, &data.Torrent{Name: "x"})
	if err != nil {
		t.Fatalf("add torrent: %v", err)
	}
	err = store.AddDownloads(ctx, tor.ID, data.DownloadList{{
		RdLink: "https://rd/a.mkv",
		Link:   "https://dl/a.mkv",
		Queued: time.Now(),
	}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	dls, _ := store.ListByTorrent(ctx, tor.ID)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWorker(nil, store, log, dls[0], t.TempDir())
	w.gid = "g1"
	return w, store, dls[0]
}

func TestUpdateAppliesMatchingStatus(t *testing.T) {
	w, store, dl := seedWorker(t)

	w.Update([]worker.BulkStatus{
		{RemoteID: "other", Status: "active"},
		{RemoteID: "g1", Status: "active", BytesDone: 10, BytesTotal: 100},
	})

	if w.Finished() {
		t.Fatalf("active transfer marked finished")
	}
	got, _ := store.GetDownload(context.Background(), dl.ID)
	if got.BytesDone != 10 || got.BytesTotal != 100 {
		t.Fatalf("progress not persisted: %+v", got)
	}
}

func TestUpdateCompleteFinishesCleanly(t *testing.T) {
	w, _, _ := seedWorker(t)
	w.Update([]worker.BulkStatus{{RemoteID: "g1", Status: "complete", BytesDone: 100, BytesTotal: 100}})
	if !w.Finished() || w.Error() != "" {
		t.Fatalf("complete not applied: finished=%v err=%q", w.Finished(), w.Error())
	}
}

func TestUpdateErrorPropagatesMessage(t *testing.T) {
	w, _, _ := seedWorker(t)
	w.Update([]worker.BulkStatus{{RemoteID: "g1", Status: "error", ErrorMessage: "disk full"}})
	if !w.Finished() || w.Error() != "disk full" {
		t.Fatalf("error not applied: finished=%v err=%q", w.Finished(), w.Error())
	}
}

func TestUpdateMissingGIDIsLost(t *testing.T) {
	w, _, _ := seedWorker(t)
	w.Update([]worker.BulkStatus{{RemoteID: "other", Status: "active"}})
	if !w.Finished() || w.Error() == "" {
		t.Fatalf("lost gid not surfaced: finished=%v err=%q", w.Finished(), w.Error())
	}
}

func TestUpdateBeforeStartIsNoop(t *testing.T) {
	w, _, _ := seedWorker(t)
	w.gid = ""
	w.Update([]worker.BulkStatus{{RemoteID: "g1", Status: "complete"}})
	if w.Finished() {
		t.Fatalf("update applied before start")
	}
}

func TestFileNameFromLink(t *testing.T) {
	cases := map[string]string{
		"https://dl/path/My%20File.mkv": "My File.mkv",
		"https://dl/plain.rar":          "plain.rar",
	}
	for link, want := range cases {
		if got := fileNameFromLink(link); got != want {
			t.Fatalf("fileNameFromLink(%q) = %q, want %q", link, got, want)
		}
	}
}
