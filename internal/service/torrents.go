package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/tinoosan/debrix/internal/data"
	"github.com/tinoosan/debrix/internal/debrid/realdebrid"
	"github.com/tinoosan/debrix/internal/metrics"
	"github.com/tinoosan/debrix/internal/repo"
)

// Torrents is the facade the runner drives torrents through. It combines the
// persistent store with the Real-Debrid API, local file removal and the
// post-completion hook.
type Torrents interface {
	Get(ctx context.Context) (data.Torrents, error)
	UnrestrictLink(ctx context.Context, downloadID string) (string, error)
	RetryTorrent(ctx context.Context, id string, retryCount int) error
	UpdateRetry(ctx context.Context, id string, retry *time.Time, retryCount int) error
	SelectFiles(ctx context.Context, id string) error
	UpdateFilesSelected(ctx context.Context, id string, ts time.Time) error
	CreateDownloads(ctx context.Context, id string) error
	UpdateError(ctx context.Context, id string, msg string) error
	// UpdateComplete marks the torrent terminal. An empty errMsg means
	// success. terminal additionally burns the retry budget so automatic
	// retries stop.
	UpdateComplete(ctx context.Context, id string, errMsg string, ts time.Time, terminal bool) error
	Delete(ctx context.Context, id string, removeRemote, removeClient, removeFiles bool) error
	RunTorrentComplete(ctx context.Context, id string) error
}

// DebridClient is the slice of the Real-Debrid API the service needs.
type DebridClient interface {
	Torrents(ctx context.Context) ([]realdebrid.TorrentInfo, error)
	Torrent(ctx context.Context, id string) (*realdebrid.TorrentInfo, error)
	AddMagnet(ctx context.Context, magnet string) (*realdebrid.AddTorrentResponse, error)
	AddTorrentFile(ctx context.Context, raw []byte) (*realdebrid.AddTorrentResponse, error)
	SelectFiles(ctx context.Context, id, fileIDs string) error
	Unrestrict(ctx context.Context, link string) (*realdebrid.UnrestrictedLink, error)
	Delete(ctx context.Context, id string) error
}

// CompleteNotifier receives the best-effort post-completion hook.
type CompleteNotifier interface {
	NotifyComplete(ctx context.Context, category, downloadPath string) error
}

type torrents struct {
	repo         repo.TorrentRepo
	dls          repo.DownloadRepo
	rd           DebridClient
	notifier     CompleteNotifier
	downloadPath string
}

func NewTorrents(trepo repo.TorrentRepo, dls repo.DownloadRepo, rd DebridClient, notifier CompleteNotifier, downloadPath string) Service {
	return &torrents{repo: trepo, dls: dls, rd: rd, notifier: notifier, downloadPath: downloadPath}
}

func (s *torrents) Get(ctx context.Context) (data.Torrents, error) {
	return s.repo.List(ctx)
}

func (s *torrents) UnrestrictLink(ctx context.Context, downloadID string) (string, error) {
	dl, err := s.dls.GetDownload(ctx, downloadID)
	if err != nil {
		return "", err
	}
	if dl.RdLink == "" {
		return "", fmt.Errorf("download %s has no restricted link", downloadID)
	}
	un, err := s.rd.Unrestrict(ctx, dl.RdLink)
	if err != nil {
		return "", err
	}
	if un.Download == "" {
		return "", fmt.Errorf("unrestrict returned no download url for %s", downloadID)
	}
	if err := s.dls.UpdateLink(ctx, downloadID, un.Download); err != nil {
		return "", err
	}
	return un.Download, nil
}

// RetryTorrent re-submits the torrent to Real-Debrid from its hash and
// rewinds the local lifecycle. The retry counter is incremented here, not by
// the caller.
func (s *torrents) RetryTorrent(ctx context.Context, id string, retryCount int) error {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.RdID != "" {
		if err := s.rd.Delete(ctx, t.RdID); err != nil {
			return fmt.Errorf("delete remote torrent: %w", err)
		}
	}
	magnet := "magnet:?xt=urn:btih:" + t.Hash
	added, err := s.rd.AddMagnet(ctx, magnet)
	if err != nil {
		return fmt.Errorf("re-add magnet: %w", err)
	}

	_, err = s.repo.Update(ctx, id, func(t *data.Torrent) error {
		t.RdID = added.ID
		t.RdStatus = data.RdStatusQueued
		t.RdStatusRaw = ""
		t.RdProgress = 0
		t.RdLinks = nil
		t.FilesSelected = nil
		t.Completed = nil
		t.Error = ""
		t.Retry = nil
		t.RetryCount = retryCount + 1
		t.Downloads = nil
		return nil
	})
	return err
}

func (s *torrents) UpdateRetry(ctx context.Context, id string, retry *time.Time, retryCount int) error {
	_, err := s.repo.Update(ctx, id, func(t *data.Torrent) error {
		t.Retry = retry
		t.RetryCount = retryCount
		return nil
	})
	return err
}

func (s *torrents) SelectFiles(ctx context.Context, id string) error {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.rd.SelectFiles(ctx, t.RdID, "all")
}

func (s *torrents) UpdateFilesSelected(ctx context.Context, id string, ts time.Time) error {
	_, err := s.repo.Update(ctx, id, func(t *data.Torrent) error {
		t.FilesSelected = &ts
		return nil
	})
	return err
}

// CreateDownloads creates one queued download row per restricted link. Rows
// are created once; the store rejects a second creation.
func (s *torrents) CreateDownloads(ctx context.Context, id string) error {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if len(t.RdLinks) == 0 {
		return fmt.Errorf("torrent %s has no links to download", id)
	}
	now := time.Now()
	dls := make(data.DownloadList, 0, len(t.RdLinks))
	for _, link := range t.RdLinks {
		dls = append(dls, &data.Download{
			TorrentID: id,
			Path:      fileNameFromLink(link),
			RdLink:    link,
			Queued:    now,
		})
	}
	err = s.repo.AddDownloads(ctx, id, dls)
	if errors.Is(err, data.ErrConflict) {
		return nil
	}
	return err
}

func (s *torrents) UpdateError(ctx context.Context, id string, msg string) error {
	_, err := s.repo.Update(ctx, id, func(t *data.Torrent) error {
		t.Error = msg
		return nil
	})
	return err
}

func (s *torrents) UpdateComplete(ctx context.Context, id string, errMsg string, ts time.Time, terminal bool) error {
	result := "success"
	if errMsg != "" {
		result = "error"
	}
	metrics.TorrentsCompleted.WithLabelValues(result).Inc()
	_, err := s.repo.Update(ctx, id, func(t *data.Torrent) error {
		t.Completed = &ts
		t.Error = errMsg
		if terminal {
			t.Retry = nil
			t.RetryCount = t.TorrentRetryAttempts
		}
		return nil
	})
	return err
}

func (s *torrents) Delete(ctx context.Context, id string, removeRemote, removeClient, removeFiles bool) error {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if removeRemote && t.RdID != "" {
		if err := s.rd.Delete(ctx, t.RdID); err != nil {
			return fmt.Errorf("delete remote torrent: %w", err)
		}
	}
	if removeFiles {
		dir := s.torrentDir(t)
		for _, d := range t.Downloads {
			name := d.Path
			if name == "" {
				name = fileNameFromLink(d.Link)
			}
			if name == "" {
				continue
			}
			if err := os.Remove(filepath.Join(dir, path.Base(name))); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", name, err)
			}
		}
	}
	if removeClient {
		return s.repo.Delete(ctx, id)
	}
	return nil
}

func (s *torrents) RunTorrentComplete(ctx context.Context, id string) error {
	if s.notifier == nil {
		return nil
	}
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.notifier.NotifyComplete(ctx, t.Category, s.torrentDir(t))
}

func (s *torrents) torrentDir(t *data.Torrent) string {
	if t.Category != "" {
		return filepath.Join(s.downloadPath, strings.ToLower(t.Category))
	}
	return s.downloadPath
}

func fileNameFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	name, err := url.PathUnescape(path.Base(u.Path))
	if err != nil {
		return path.Base(u.Path)
	}
	return name
}
