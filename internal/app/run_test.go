package app

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/taskdeck/internal/config"
)

func setTestEnv(t *testing.T, apiBaseURL string) {
	t.Helper()
	t.Setenv("API_BASE_URL", apiBaseURL)
	t.Setenv("BASE_URL", "http://localhost:8080")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("METRICS_PORT", "")
	t.Setenv("APP_ENV", "")
	t.Setenv("LOG_LEVEL", "")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newRemote はリモートの認証・APIサービスを模したサーバーを起動し、APIのベースURLを返す。
func newRemote(t *testing.T) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[]`))
	})
	remote := httptest.NewServer(mux)
	t.Cleanup(remote.Close)
	return remote.URL + "/api"
}

// newTestServers は設定を読み込み、serveモードと同じワイヤリングでハンドラーを構築する。
func newTestServers(t *testing.T, apiBaseURL string) (*servers, *prometheus.Registry) {
	t.Helper()
	setTestEnv(t, apiBaseURL)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}

	reg := prometheus.NewRegistry()
	srv, err := buildServers(cfg, discardLogger(), reg)
	if err != nil {
		t.Fatalf("buildServers returned error: %v", err)
	}
	t.Cleanup(srv.cleanup)
	return srv, reg
}

func TestBuildServers_AppHandlerServesHealth(t *testing.T) {
	srv, _ := newTestServers(t, newRemote(t))

	w := httptest.NewRecorder()
	srv.app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestBuildServers_UnauthenticatedAPIForwardIs401(t *testing.T) {
	srv, _ := newTestServers(t, newRemote(t))

	w := httptest.NewRecorder()
	srv.app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestBuildServers_OpsHandlerExposesMetrics(t *testing.T) {
	srv, _ := newTestServers(t, newRemote(t))

	// ガード判定を1件発生させる
	srv.app.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	w := httptest.NewRecorder()
	srv.ops.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"taskdeck_guard_decisions_total", "taskdeck_http_status_total", "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics should contain %s", name)
		}
	}
}

func TestRunHealthcheck(t *testing.T) {
	srv, _ := newTestServers(t, newRemote(t))
	web := httptest.NewServer(srv.app)
	defer web.Close()

	if err := runHealthcheck(web.URL); err != nil {
		t.Errorf("runHealthcheck returned error: %v", err)
	}
}

func TestRunHealthcheck_Unhealthy(t *testing.T) {
	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	if err := runHealthcheck(unhealthy.URL); err == nil {
		t.Error("expected error for unhealthy server")
	}
}

// TestRunShell_ConnectsToWebLayer はシェルがWeb層からセッションを読み込むことを検証する。
func TestRunShell_ConnectsToWebLayer(t *testing.T) {
	srv, _ := newTestServers(t, newRemote(t))
	web := httptest.NewServer(srv.app)
	defer web.Close()

	var out bytes.Buffer
	cfg := &config.ShellConfig{BaseURL: web.URL, RemoteTimeout: 5 * time.Second}
	if err := runShell(cfg, discardLogger(), strings.NewReader("status\ntasks\nquit\n"), &out); err != nil {
		t.Fatalf("runShell returned error: %v", err)
	}

	if !strings.Contains(out.String(), "state=unauthenticated path=/login") {
		t.Errorf("shell should start signed out on /login, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "[!] Not authenticated") {
		t.Errorf("tasks without session should fail, got:\n%s", out.String())
	}
}

func TestRun_ShellWithMissingBaseURL_ReturnsError(t *testing.T) {
	t.Setenv("BASE_URL", "")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"shell"}); err == nil {
		t.Fatal("Run(shell) with missing BASE_URL should return error")
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("API_BASE_URL", "")
	t.Setenv("BASE_URL", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

func TestRun_WithRelativeAPIBaseURL_ReturnsError(t *testing.T) {
	setTestEnv(t, "/api")

	var buf bytes.Buffer
	if err := Run(&buf, []string{}); err == nil {
		t.Fatal("Run with relative API_BASE_URL should return error")
	}
}
