package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"
	"github.com/tinoosan/debrix/internal/data"
)

// PostgresRepo implements TorrentRepo and DownloadRepo backed by PostgreSQL.
type PostgresRepo struct {
	db *sql.DB
}

var (
	_ TorrentRepo  = (*PostgresRepo)(nil)
	_ DownloadRepo = (*PostgresRepo)(nil)
)

// NewPostgresRepo constructs a repository using the provided DSN.
func NewPostgresRepo(dsn string) (*PostgresRepo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &PostgresRepo{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *PostgresRepo) Close() error { return r.db.Close() }

func (r *PostgresRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS torrents (
    id UUID PRIMARY KEY,
    rd_id TEXT NOT NULL DEFAULT '',
    hash TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    rd_status TEXT NOT NULL DEFAULT 'Unknown',
    rd_status_raw TEXT NOT NULL DEFAULT '',
    rd_progress DOUBLE PRECISION NOT NULL DEFAULT 0,
    rd_links JSONB,
    added TIMESTAMPTZ NOT NULL,
    files_selected TIMESTAMPTZ,
    completed TIMESTAMPTZ,
    error TEXT NOT NULL DEFAULT '',
    retry TIMESTAMPTZ,
    retry_count INT NOT NULL DEFAULT 0,
    torrent_retry_attempts INT NOT NULL DEFAULT 0,
    download_retry_attempts INT NOT NULL DEFAULT 0,
    lifetime INT NOT NULL DEFAULT 0,
    delete_on_error INT NOT NULL DEFAULT 0,
    finished_action TEXT NOT NULL DEFAULT 'None',
    host_download_action TEXT NOT NULL DEFAULT 'DownloadAll'
);
CREATE TABLE IF NOT EXISTS downloads (
    id UUID PRIMARY KEY,
    torrent_id UUID NOT NULL REFERENCES torrents(id) ON DELETE CASCADE,
    path TEXT NOT NULL DEFAULT '',
    rd_link TEXT NOT NULL DEFAULT '',
    link TEXT NOT NULL DEFAULT '',
    remote_id TEXT NOT NULL DEFAULT '',
    queued TIMESTAMPTZ NOT NULL,
    download_started TIMESTAMPTZ,
    download_finished TIMESTAMPTZ,
    unpacking_queued TIMESTAMPTZ,
    unpacking_started TIMESTAMPTZ,
    unpacking_finished TIMESTAMPTZ,
    completed TIMESTAMPTZ,
    error TEXT NOT NULL DEFAULT '',
    retry_count INT NOT NULL DEFAULT 0,
    bytes_total BIGINT NOT NULL DEFAULT 0,
    bytes_done BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS downloads_torrent_id_idx ON downloads(torrent_id);
`)
	return err
}

const torrentCols = `id,rd_id,hash,name,category,rd_status,rd_status_raw,rd_progress,rd_links,added,files_selected,completed,error,retry,retry_count,torrent_retry_attempts,download_retry_attempts,lifetime,delete_on_error,finished_action,host_download_action`

const downloadCols = `id,torrent_id,path,rd_link,link,remote_id,queued,download_started,download_finished,unpacking_queued,unpacking_started,unpacking_finished,completed,error,retry_count,bytes_total,bytes_done`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTorrent(rs rowScanner) (*data.Torrent, error) {
	var t data.Torrent
	var links []byte
	err := rs.Scan(&t.ID, &t.RdID, &t.Hash, &t.Name, &t.Category, &t.RdStatus, &t.RdStatusRaw, &t.RdProgress, &links,
		&t.Added, &t.FilesSelected, &t.Completed, &t.Error, &t.Retry, &t.RetryCount, &t.TorrentRetryAttempts,
		&t.DownloadRetryAttempts, &t.Lifetime, &t.DeleteOnError, &t.FinishedAction, &t.HostDownloadAction)
	if err != nil {
		return nil, err
	}
	if len(links) > 0 {
		if err := json.Unmarshal(links, &t.RdLinks); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func scanDownload(rs rowScanner) (*data.Download, error) {
	var d data.Download
	err := rs.Scan(&d.ID, &d.TorrentID, &d.Path, &d.RdLink, &d.Link, &d.RemoteID, &d.Queued,
		&d.DownloadStarted, &d.DownloadFinished, &d.UnpackingQueued, &d.UnpackingStarted,
		&d.UnpackingFinished, &d.Completed, &d.Error, &d.RetryCount, &d.BytesTotal, &d.BytesDone)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PostgresRepo) List(ctx context.Context) (data.Torrents, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+torrentCols+` FROM torrents ORDER BY added ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out data.Torrents
	for rows.Next() {
		t, err := scanTorrent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, t := range out {
		dls, err := r.ListByTorrent(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		t.Downloads = dls
	}
	return out, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*data.Torrent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+torrentCols+` FROM torrents WHERE id=$1`, id)
	t, err := scanTorrent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	dls, err := r.ListByTorrent(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Downloads = dls
	return t, nil
}

func (r *PostgresRepo) Add(ctx context.Context, t *data.Torrent) (*data.Torrent, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Added.IsZero() {
		t.Added = time.Now()
	}
	links, err := json.Marshal(t.RdLinks)
	if err != nil {
		return nil, err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO torrents (`+torrentCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		t.ID, t.RdID, t.Hash, t.Name, t.Category, t.RdStatus, t.RdStatusRaw, t.RdProgress, links,
		t.Added, t.FilesSelected, t.Completed, t.Error, t.Retry, t.RetryCount, t.TorrentRetryAttempts,
		t.DownloadRetryAttempts, t.Lifetime, t.DeleteOnError, t.FinishedAction, t.HostDownloadAction)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// Update loads the row inside a transaction, applies fn and writes every
// mutable column back.
func (r *PostgresRepo) Update(ctx context.Context, id string, fn func(t *data.Torrent) error) (*data.Torrent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+torrentCols+` FROM torrents WHERE id=$1 FOR UPDATE`, id)
	t, err := scanTorrent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	dls, err := r.ListByTorrent(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Downloads = dls
	hadDownloads := len(dls) > 0
	if err := fn(t); err != nil {
		return nil, err
	}
	links, err := json.Marshal(t.RdLinks)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `UPDATE torrents SET rd_id=$2,hash=$3,name=$4,category=$5,rd_status=$6,rd_status_raw=$7,rd_progress=$8,rd_links=$9,files_selected=$10,completed=$11,error=$12,retry=$13,retry_count=$14,torrent_retry_attempts=$15,download_retry_attempts=$16,lifetime=$17,delete_on_error=$18,finished_action=$19,host_download_action=$20 WHERE id=$1`,
		t.ID, t.RdID, t.Hash, t.Name, t.Category, t.RdStatus, t.RdStatusRaw, t.RdProgress, links,
		t.FilesSelected, t.Completed, t.Error, t.Retry, t.RetryCount, t.TorrentRetryAttempts,
		t.DownloadRetryAttempts, t.Lifetime, t.DeleteOnError, t.FinishedAction, t.HostDownloadAction)
	if err != nil {
		return nil, err
	}
	// Downloads removed by fn (e.g. a retry rewind) are deleted; additions
	// go through AddDownloads.
	if hadDownloads && t.Downloads == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM downloads WHERE torrent_id=$1`, id); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *PostgresRepo) AddDownloads(ctx context.Context, torrentID string, dls data.DownloadList) error {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM downloads WHERE torrent_id=$1`, torrentID).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return data.ErrConflict
	}
	for _, d := range dls {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.TorrentID = torrentID
		_, err := r.db.ExecContext(ctx, `INSERT INTO downloads (`+downloadCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			d.ID, d.TorrentID, d.Path, d.RdLink, d.Link, d.RemoteID, d.Queued,
			d.DownloadStarted, d.DownloadFinished, d.UnpackingQueued, d.UnpackingStarted,
			d.UnpackingFinished, d.Completed, d.Error, d.RetryCount, d.BytesTotal, d.BytesDone)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM torrents WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return data.ErrNotFound
	}
	return nil
}

// --- DownloadRepo ---

func (r *PostgresRepo) GetDownload(ctx context.Context, id string) (*data.Download, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+downloadCols+` FROM downloads WHERE id=$1`, id)
	d, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepo) ListByTorrent(ctx context.Context, torrentID string) (data.DownloadList, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+downloadCols+` FROM downloads WHERE torrent_id=$1 ORDER BY queued ASC, id ASC`, torrentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out data.DownloadList
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return data.ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) UpdateLink(ctx context.Context, id string, link string) error {
	return r.exec(ctx, `UPDATE downloads SET link=$2 WHERE id=$1`, id, link)
}

func (r *PostgresRepo) UpdateDownloadStarted(ctx context.Context, id string, ts *time.Time) error {
	return r.exec(ctx, `UPDATE downloads SET download_started=$2 WHERE id=$1`, id, ts)
}

func (r *PostgresRepo) MarkDownloadFinished(ctx context.Context, id string, ts time.Time) error {
	return r.exec(ctx, `UPDATE downloads SET download_finished=$2, unpacking_queued=$2 WHERE id=$1`, id, ts)
}

func (r *PostgresRepo) UpdateUnpackingStarted(ctx context.Context, id string, ts *time.Time) error {
	return r.exec(ctx, `UPDATE downloads SET unpacking_started=$2 WHERE id=$1`, id, ts)
}

func (r *PostgresRepo) UpdateUnpackingFinished(ctx context.Context, id string, ts time.Time) error {
	return r.exec(ctx, `UPDATE downloads SET unpacking_finished=$2 WHERE id=$1`, id, ts)
}

func (r *PostgresRepo) MarkUnpackSkipped(ctx context.Context, id string, ts time.Time) error {
	return r.exec(ctx, `UPDATE downloads SET unpacking_started=$2, unpacking_finished=$2, completed=$2 WHERE id=$1`, id, ts)
}

func (r *PostgresRepo) UpdateCompleted(ctx context.Context, id string, ts time.Time) error {
	return r.exec(ctx, `UPDATE downloads SET completed=$2 WHERE id=$1`, id, ts)
}

func (r *PostgresRepo) UpdateError(ctx context.Context, id string, msg string) error {
	return r.exec(ctx, `UPDATE downloads SET error=$2 WHERE id=$1`, id, msg)
}

func (r *PostgresRepo) UpdateRetryCount(ctx context.Context, id string, count int) error {
	return r.exec(ctx, `UPDATE downloads SET retry_count=$2 WHERE id=$1`, id, count)
}

func (r *PostgresRepo) UpdateProgress(ctx context.Context, id string, done, total int64) error {
	return r.exec(ctx, `UPDATE downloads SET bytes_done=$2, bytes_total=$3 WHERE id=$1`, id, done, total)
}

func (r *PostgresRepo) Reset(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE downloads SET download_started=NULL, download_finished=NULL, unpacking_queued=NULL, unpacking_started=NULL, unpacking_finished=NULL, completed=NULL, error='', remote_id='', link='', bytes_done=0 WHERE id=$1`, id)
}

func (r *PostgresRepo) UpdateRemoteIDs(ctx context.Context, ids map[string]string) error {
	for id, remote := range ids {
		if err := r.exec(ctx, `UPDATE downloads SET remote_id=$2 WHERE id=$1`, id, remote); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepo) UpdateErrors(ctx context.Context, errs map[string]string) error {
	for id, msg := range errs {
		if err := r.exec(ctx, `UPDATE downloads SET error=$2 WHERE id=$1`, id, msg); err != nil {
			return err
		}
	}
	return nil
}
