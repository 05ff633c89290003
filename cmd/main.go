package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tinoosan/debrix/internal/arr"
	"github.com/tinoosan/debrix/internal/config"
	"github.com/tinoosan/debrix/internal/debrid/realdebrid"
	"github.com/tinoosan/debrix/internal/metrics"
	"github.com/tinoosan/debrix/internal/progress"
	"github.com/tinoosan/debrix/internal/registry"
	"github.com/tinoosan/debrix/internal/repo"
	"github.com/tinoosan/debrix/internal/router"
	"github.com/tinoosan/debrix/internal/runner"
	"github.com/tinoosan/debrix/internal/service"
	"github.com/tinoosan/debrix/internal/worker"
	"github.com/tinoosan/debrix/internal/worker/aria2dl"
	"github.com/tinoosan/debrix/internal/worker/factory"
	"gopkg.in/natefinch/lumberjack.v2"
)

// syncInterval drives the remote status refresh, independent of the tick.
const syncInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	metrics.Register()

	var store interface {
		repo.TorrentRepo
		repo.DownloadRepo
	}
	if cfg.Database.URL != "" {
		pg, err := repo.NewPostgresRepo(cfg.Database.URL)
		if err != nil {
			logger.Error("connect postgres", "err", err)
			os.Exit(1)
		}
		defer func() { _ = pg.Close() }()
		store = pg
		logger.Info("using postgres store")
	} else {
		store = repo.NewInMemoryRepo()
		logger.Info("using in-memory store")
	}

	rd := realdebrid.NewClient(cfg.Provider.URL, cfg.Provider.APIKey)
	notifier := arr.NewNotifier(map[string]arr.Instance{
		"sonarr": {BaseURL: cfg.Arr.SonarrURL, APIKey: cfg.Arr.SonarrAPIKey},
		"radarr": {BaseURL: cfg.Arr.RadarrURL, APIKey: cfg.Arr.RadarrAPIKey},
	})
	svc := service.NewTorrents(store, store, rd, notifier, cfg.DownloadClient.DownloadPath)

	var aria2 *aria2dl.Client
	if cfg.Client() == worker.ClientAria2 {
		aria2, err = aria2dl.NewClient(cfg.DownloadClient.Aria2URL, cfg.DownloadClient.Aria2Secret)
		if err != nil {
			logger.Error("aria2 client", "err", err)
			os.Exit(1)
		}
	}

	reg := registry.New()
	fac := factory.New(cfg, store, logger, aria2)
	hub := progress.NewHub(logger, store)

	var bulk worker.BulkStatusSource
	if aria2 != nil {
		bulk = aria2
	}
	run := runner.New(logger, cfg, svc, store, store, reg, fac, bulk, hub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run.Initialize(ctx); err != nil {
		logger.Error("initialize", "err", err)
		os.Exit(1)
	}

	// Tick driver: one serialized tick per interval; a slow tick delays the
	// next one rather than overlapping it.
	go func() {
		interval := time.Duration(cfg.General.TickSeconds) * time.Second
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run.Tick(ctx)
			}
		}
	}()

	// Remote status sync loop, outside the tick.
	go func() {
		ticker := time.NewTicker(syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if cfg.Provider.APIKey == "" {
					continue
				}
				if err := svc.SyncRemote(ctx); err != nil {
					logger.Error("sync remote", "err", err)
				}
			}
		}
	}()

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router.New(logger, svc, hub),
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting debrix", "addr", server.Addr, "client", string(cfg.Client()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("received terminate, graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var w io.Writer = os.Stdout
	if cfg.Log.Path != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Log.Path,
			MaxSize:    cfg.Log.MaxSize,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAge,
		})
	}
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
