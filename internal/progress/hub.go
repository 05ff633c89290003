// Package progress pushes torrent snapshots to websocket subscribers. The
// runner calls Update at the end of every tick; the push is idempotent and
// best-effort.
package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tinoosan/debrix/internal/repo"
	"nhooyr.io/websocket"
)

const writeTimeout = 5 * time.Second

// Hub owns the set of connected subscribers.
type Hub struct {
	log      *slog.Logger
	torrents repo.TorrentReader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewHub(log *slog.Logger, torrents repo.TorrentReader) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, torrents: torrents, conns: make(map[*websocket.Conn]struct{})}
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Error("websocket accept", "err", err)
		return
	}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	// Block until the peer closes; reads are discarded.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

// Update broadcasts the current torrent snapshot to every subscriber.
// Connections that fail to accept the write are dropped.
func (h *Hub) Update() {
	h.mu.Lock()
	if len(h.conns) == 0 {
		h.mu.Unlock()
		return
	}
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	snapshot, err := h.torrents.List(ctx)
	if err != nil {
		h.log.Error("snapshot torrents", "err", err)
		return
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		h.log.Error("marshal snapshot", "err", err)
		return
	}

	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageText, payload); err != nil {
			h.mu.Lock()
			delete(h.conns, c)
			h.mu.Unlock()
			_ = c.Close(websocket.StatusGoingAway, "write failed")
		}
	}
}
