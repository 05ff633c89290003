package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tinoosan/debrix/internal/config"
	"github.com/tinoosan/debrix/internal/data"
	"github.com/tinoosan/debrix/internal/debrid/realdebrid"
	"github.com/tinoosan/debrix/internal/registry"
	"github.com/tinoosan/debrix/internal/repo"
	"github.com/tinoosan/debrix/internal/service"
	"github.com/tinoosan/debrix/internal/worker"
)

// fakeRD stands in for the Real-Debrid API. Unrestrict rewrites https://rd/
// links into https://dl/ links so tests can tell the two apart.
type fakeRD struct {
	mu            sync.Mutex
	selected      []string
	deleted       []string
	unrestricted  []string
	unrestrictErr error
}

func (f *fakeRD) Torrents(ctx context.Context) ([]realdebrid.TorrentInfo, error) { return nil, nil }

func (f *fakeRD) Torrent(ctx context.Context, id string) (*realdebrid.TorrentInfo, error) {
	return &realdebrid.TorrentInfo{ID: id}, nil
}

func (f *fakeRD) AddMagnet(ctx context.Context, magnet string) (*realdebrid.AddTorrentResponse, error) {
	return &realdebrid.AddTorrentResponse{ID: "rd-retry"}, nil
}

func (f *fakeRD) AddTorrentFile(ctx context.Context, raw []byte) (*realdebrid.AddTorrentResponse, error) {
	return &realdebrid.AddTorrentResponse{ID: "rd-file"}, nil
}

func (f *fakeRD) SelectFiles(ctx context.Context, id, fileIDs string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, id)
	return nil
}

func (f *fakeRD) Unrestrict(ctx context.Context, link string) (*realdebrid.UnrestrictedLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unrestrictErr != nil {
		return nil, f.unrestrictErr
	}
	f.unrestricted = append(f.unrestricted, link)
	return &realdebrid.UnrestrictedLink{Download: strings.Replace(link, "https://rd/", "https://dl/", 1)}, nil
}

func (f *fakeRD) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRD) selectedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.selected...)
}

func (f *fakeRD) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// fakeWorker is a controllable download worker. With autoFail it fails its
// Start call and finishes immediately; otherwise it stays pending until the
// test calls finish.
type fakeWorker struct {
	mu        sync.Mutex
	typ       worker.Client
	autoFail  bool
	remoteID  string
	finished  bool
	errMsg    string
	startedAt time.Time
}

func (w *fakeWorker) Type() worker.Client { return w.typ }

func (w *fakeWorker) Start(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.startedAt = time.Now()
	if w.autoFail {
		w.finished = true
		w.errMsg = "boom"
		return "", errors.New("boom")
	}
	return w.remoteID, nil
}

func (w *fakeWorker) Finished() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finished
}

func (w *fakeWorker) Error() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errMsg
}

func (w *fakeWorker) finish(errMsg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finished = true
	w.errMsg = errMsg
}

type fakeUnpackWorker struct {
	mu       sync.Mutex
	started  bool
	finished bool
	errMsg   string
}

func (w *fakeUnpackWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = true
}

func (w *fakeUnpackWorker) Finished() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finished
}

func (w *fakeUnpackWorker) Error() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errMsg
}

func (w *fakeUnpackWorker) finish(errMsg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finished = true
	w.errMsg = errMsg
}

type fakeFactory struct {
	mu         sync.Mutex
	failStarts bool
	downloads  []*fakeWorker
	unpacks    []*fakeUnpackWorker
}

func (f *fakeFactory) DownloadWorker(dl *data.Download, t *data.Torrent, dir string) (worker.DownloadWorker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWorker{typ: worker.ClientInternal, autoFail: f.failStarts}
	f.downloads = append(f.downloads, w)
	return w, nil
}

func (f *fakeFactory) UnpackWorker(dl *data.Download, dir string) (worker.UnpackWorker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeUnpackWorker{}
	f.unpacks = append(f.unpacks, w)
	return w, nil
}

func (f *fakeFactory) downloadWorkers() []*fakeWorker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeWorker(nil), f.downloads...)
}

func (f *fakeFactory) unpackWorkers() []*fakeUnpackWorker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeUnpackWorker(nil), f.unpacks...)
}

type env struct {
	store *repo.InMemoryRepo
	rd    *fakeRD
	fac   *fakeFactory
	reg   *registry.Registry
	cfg   *config.Config
	run   *Runner
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := &config.Config{}
	cfg.Provider.APIKey = "key"
	cfg.DownloadClient.Client = "internal"
	cfg.DownloadClient.DownloadPath = t.TempDir()
	cfg.General.DownloadLimit = 2
	cfg.General.UnpackLimit = 1

	store := repo.NewInMemoryRepo()
	rd := &fakeRD{}
	svc := service.NewTorrents(store, store, rd, nil, cfg.DownloadClient.DownloadPath)
	fac := &fakeFactory{}
	reg := registry.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &env{
		store: store,
		rd:    rd,
		fac:   fac,
		reg:   reg,
		cfg:   cfg,
		run:   New(log, cfg, svc, store, store, reg, fac, nil, nil),
	}
}

func (e *env) addTorrent(t *testing.T, mut func(*data.Torrent)) *data.Torrent {
	t.Helper()
	tor := &data.Torrent{
		RdID:                  "rd1",
		Hash:                  "aabbcc",
		Name:                  "example",
		RdStatus:              data.RdStatusFinished,
		Added:                 time.Now(),
		TorrentRetryAttempts:  1,
		FinishedAction:        data.FinishedActionNone,
		HostDownloadAction:    data.DownloadAll,
		DownloadRetryAttempts: 0,
	}
	if mut != nil {
		mut(tor)
	}
	saved, err := e.store.Add(context.Background(), tor)
	if err != nil {
		t.Fatalf("add torrent: %v", err)
	}
	return saved
}

func (e *env) seedDownloads(t *testing.T, torrentID string, dls ...*data.Download) data.DownloadList {
	t.Helper()
	for _, d := range dls {
		if d.Queued.IsZero() {
			d.Queued = time.Now()
		}
	}
	if err := e.store.AddDownloads(context.Background(), torrentID, dls); err != nil {
		t.Fatalf("seed downloads: %v", err)
	}
	out, err := e.store.ListByTorrent(context.Background(), torrentID)
	if err != nil {
		t.Fatalf("list downloads: %v", err)
	}
	return out
}

func (e *env) tick() { e.run.Tick(context.Background()) }

func (e *env) torrent(t *testing.T, id string) *data.Torrent {
	t.Helper()
	tor, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get torrent %s: %v", id, err)
	}
	return tor
}

func (e *env) download(t *testing.T, id string) *data.Download {
	t.Helper()
	d, err := e.store.GetDownload(context.Background(), id)
	if err != nil {
		t.Fatalf("get download %s: %v", id, err)
	}
	return d
}
