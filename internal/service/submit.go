package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tinoosan/debrix/internal/data"
	"github.com/tinoosan/debrix/internal/debrid/realdebrid"
)

// Service is the full torrent surface: the runner-facing facade plus
// submission and remote sync used by the API layer and the sync loop.
type Service interface {
	Torrents
	AddMagnet(ctx context.Context, magnet string, opts SubmitOptions) (*data.Torrent, error)
	AddTorrentFile(ctx context.Context, raw []byte, opts SubmitOptions) (*data.Torrent, error)
	SyncRemote(ctx context.Context) error
}

// SubmitOptions carries the per-torrent policy knobs set at submission time.
type SubmitOptions struct {
	Category              string
	Lifetime              int
	DeleteOnError         int
	TorrentRetryAttempts  int
	DownloadRetryAttempts int
	FinishedAction        data.FinishedAction
	HostDownloadAction    data.HostDownloadAction
}

func (o *SubmitOptions) normalize() {
	if o.FinishedAction == "" {
		o.FinishedAction = data.FinishedActionNone
	}
	if o.HostDownloadAction == "" {
		o.HostDownloadAction = data.DownloadAll
	}
}

var _ Service = (*torrents)(nil)

// AddMagnet submits a magnet link to Real-Debrid and creates the local row.
func (s *torrents) AddMagnet(ctx context.Context, magnet string, opts SubmitOptions) (*data.Torrent, error) {
	hash, name, err := parseMagnet(magnet)
	if err != nil {
		return nil, err
	}
	added, err := s.rd.AddMagnet(ctx, magnet)
	if err != nil {
		return nil, err
	}
	return s.addRow(ctx, added.ID, hash, name, opts)
}

// AddTorrentFile uploads raw .torrent bytes to Real-Debrid and creates the
// local row. The remote is queried for the resolved name and hash.
func (s *torrents) AddTorrentFile(ctx context.Context, raw []byte, opts SubmitOptions) (*data.Torrent, error) {
	added, err := s.rd.AddTorrentFile(ctx, raw)
	if err != nil {
		return nil, err
	}
	info, err := s.rd.Torrent(ctx, added.ID)
	if err != nil {
		return nil, err
	}
	return s.addRow(ctx, added.ID, info.Hash, info.Filename, opts)
}

func (s *torrents) addRow(ctx context.Context, rdID, hash, name string, opts SubmitOptions) (*data.Torrent, error) {
	opts.normalize()
	t := &data.Torrent{
		RdID:                  rdID,
		Hash:                  strings.ToLower(hash),
		Name:                  name,
		Category:              strings.ToLower(opts.Category),
		RdStatus:              data.RdStatusQueued,
		Added:                 time.Now(),
		Lifetime:              opts.Lifetime,
		DeleteOnError:         opts.DeleteOnError,
		TorrentRetryAttempts:  opts.TorrentRetryAttempts,
		DownloadRetryAttempts: opts.DownloadRetryAttempts,
		FinishedAction:        opts.FinishedAction,
		HostDownloadAction:    opts.HostDownloadAction,
	}
	return s.repo.Add(ctx, t)
}

// SyncRemote refreshes remote status, progress and links for every
// non-completed torrent. It runs on its own cadence outside the tick.
func (s *torrents) SyncRemote(ctx context.Context) error {
	list, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	remote, err := s.rd.Torrents(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]realdebrid.TorrentInfo, len(remote))
	for _, info := range remote {
		byID[info.ID] = info
	}

	for _, t := range list {
		if t.Completed != nil || t.RdID == "" {
			continue
		}
		info, ok := byID[t.RdID]
		if !ok {
			continue
		}
		// The list endpoint omits per-file links until the torrent is
		// downloaded; fetch detail only when they are needed.
		links := info.Links
		if data.ParseRdStatus(info.Status) == data.RdStatusFinished && len(links) == 0 {
			detail, err := s.rd.Torrent(ctx, t.RdID)
			if err != nil {
				return err
			}
			links = detail.Links
		}
		_, err := s.repo.Update(ctx, t.ID, func(t *data.Torrent) error {
			t.RdStatus = data.ParseRdStatus(info.Status)
			t.RdStatusRaw = info.Status
			t.RdProgress = info.Progress
			t.Name = info.Filename
			if len(links) > 0 {
				t.RdLinks = links
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func parseMagnet(magnet string) (hash, name string, err error) {
	u, err := url.Parse(magnet)
	if err != nil || u.Scheme != "magnet" {
		return "", "", fmt.Errorf("invalid magnet link")
	}
	q := u.Query()
	for _, xt := range q["xt"] {
		if strings.HasPrefix(xt, "urn:btih:") {
			hash = strings.TrimPrefix(xt, "urn:btih:")
			break
		}
	}
	if hash == "" {
		return "", "", fmt.Errorf("magnet link has no btih hash")
	}
	return hash, q.Get("dn"), nil
}
