package router

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	v1 "github.com/tinoosan/debrix/api/v1"
	"github.com/tinoosan/debrix/internal/auth"
	"github.com/tinoosan/debrix/internal/service"
)

// New sets up the application routes and required middleware.
func New(logger *slog.Logger, svc service.Service, ws http.Handler) *mux.Router {

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	torrentHandler := v1.NewTorrentHandler(logger, svc)

	r.Use(v1.RequestID)
	r.Use(torrentHandler.Log)
	r.Use(auth.Middleware)

	api := r.PathPrefix("/v1").Subrouter()

	if ws != nil {
		api.Handle("/ws", ws).Methods("GET")
	}

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/torrents", torrentHandler.GetTorrents)
	get.HandleFunc("/torrents/{id}", torrentHandler.GetTorrent)

	// POSTs
	post := api.Methods("POST").Subrouter()
	post.HandleFunc("/torrents", torrentHandler.AddMagnet)
	post.HandleFunc("/torrents/{id}/retry", torrentHandler.RetryTorrent)

	// DELETEs
	del := api.Methods("DELETE").Subrouter()
	del.HandleFunc("/torrents/{id}", torrentHandler.DeleteTorrent)

	return r
}
