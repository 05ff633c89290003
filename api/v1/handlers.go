package v1

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tinoosan/debrix/internal/data"
	"github.com/tinoosan/debrix/internal/reqid"
	"github.com/tinoosan/debrix/internal/service"
)

// TorrentHandler serves the management API over the torrent service.
type TorrentHandler struct {
	l   *slog.Logger
	svc service.Service
}

func NewTorrentHandler(l *slog.Logger, svc service.Service) *TorrentHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TorrentHandler{l: l, svc: svc}
}

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

// Log wraps handlers with an access log line carrying the request id.
func (h *TorrentHandler) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &rwLogger{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rw, r)
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"bytes", rw.bytes,
			"duration", time.Since(start),
		}
		if id, ok := reqid.From(r.Context()); ok {
			attrs = append(attrs, "request_id", id)
		}
		if rw.err != nil {
			attrs = append(attrs, "err", rw.err)
			h.l.Error("request", attrs...)
			return
		}
		h.l.Info("request", attrs...)
	})
}

func (h *TorrentHandler) GetTorrents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	list, err := h.svc.Get(r.Context())
	if err != nil {
		markErr(w, err)
		http.Error(w, "Unable to list torrents", http.StatusInternalServerError)
		return
	}
	if err := json.NewEncoder(w).Encode(list); err != nil {
		markErr(w, err)
	}
}

func (h *TorrentHandler) GetTorrent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	list, err := h.svc.Get(r.Context())
	if err != nil {
		markErr(w, err)
		http.Error(w, "Unable to list torrents", http.StatusInternalServerError)
		return
	}
	for _, t := range list {
		if t.ID == id {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(t); err != nil {
				markErr(w, err)
			}
			return
		}
	}
	http.Error(w, "Not Found", http.StatusNotFound)
}

type addMagnetBody struct {
	Magnet                string `json:"magnet"`
	Category              string `json:"category"`
	Lifetime              int    `json:"lifetime"`
	DeleteOnError         int    `json:"deleteOnError"`
	TorrentRetryAttempts  int    `json:"torrentRetryAttempts"`
	DownloadRetryAttempts int    `json:"downloadRetryAttempts"`
	FinishedAction        string `json:"finishedAction"`
	HostDownloadAction    string `json:"hostDownloadAction"`
}

func (h *TorrentHandler) AddMagnet(w http.ResponseWriter, r *http.Request) {
	var body addMagnetBody
	if err := decodeJSONStrict(w, r, &body, 1<<20, "application/json"); err != nil {
		markErr(w, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Magnet == "" {
		markErr(w, ErrMagnetJSON)
		http.Error(w, ErrMagnetJSON.Error(), http.StatusBadRequest)
		return
	}
	t, err := h.svc.AddMagnet(r.Context(), body.Magnet, service.SubmitOptions{
		Category:              body.Category,
		Lifetime:              body.Lifetime,
		DeleteOnError:         body.DeleteOnError,
		TorrentRetryAttempts:  body.TorrentRetryAttempts,
		DownloadRetryAttempts: body.DownloadRetryAttempts,
		FinishedAction:        data.FinishedAction(body.FinishedAction),
		HostDownloadAction:    data.HostDownloadAction(body.HostDownloadAction),
	})
	if err != nil {
		markErr(w, err)
		http.Error(w, "Unable to add magnet", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(t); err != nil {
		markErr(w, err)
	}
}

// RetryTorrent sets the retry marker; the runner picks it up on the next
// tick.
func (h *TorrentHandler) RetryTorrent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	now := time.Now()
	list, err := h.svc.Get(r.Context())
	if err != nil {
		markErr(w, err)
		http.Error(w, "Unable to list torrents", http.StatusInternalServerError)
		return
	}
	for _, t := range list {
		if t.ID == id {
			if err := h.svc.UpdateRetry(r.Context(), id, &now, t.RetryCount); err != nil {
				markErr(w, err)
				http.Error(w, "Unable to request retry", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			return
		}
	}
	http.Error(w, "Not Found", http.StatusNotFound)
}

func (h *TorrentHandler) DeleteTorrent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := r.URL.Query()
	err := h.svc.Delete(r.Context(), id,
		q.Get("remote") == "true",
		q.Get("client") != "false",
		q.Get("files") == "true",
	)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		markErr(w, err)
		http.Error(w, "Unable to delete torrent", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
