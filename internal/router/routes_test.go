package router

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tinoosan/debrix/internal/repo"
	"github.com/tinoosan/debrix/internal/service"
)


func newRouter(t *testing.T) http.Handler {
	t.Helper()
	store := repo.NewInMemoryRepo()
	svc := service.NewTorrents(store, store, nil, nil, t.TempDir())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(log, svc, nil)
}

func TestHealthzOpen(t *testing.T) {
	t.Setenv("DEBRIX_SERVER_TOKEN", "sekrit")
	rr := httptest.NewRecorder()
	newRouter(t).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "ok" {
		t.Fatalf("healthz = %d %q", rr.Code, rr.Body.String())
	}
}

func TestMetricsOpen(t *testing.T) {
	t.Setenv("DEBRIX_SERVER_TOKEN", "sekrit")
	rr := httptest.NewRecorder()
	newRouter(t).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rr.Code)
	}
}

func TestTorrentsRequireToken(t *testing.T) {
	t.Setenv("DEBRIX_SERVER_TOKEN", "sekrit")
	r := newRouter(t)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/torrents", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request = %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/torrents", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("authenticated request = %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("content type = %q", rr.Header().Get("Content-Type"))
	}
}
