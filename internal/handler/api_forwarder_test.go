package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/taskdeck/internal/credential"
	"github.com/hitoshi/taskdeck/internal/middleware"
	"github.com/hitoshi/taskdeck/internal/model"
)

// --- モック定義 ---

type latencyRecorder struct {
	operations []string
}

func (l *latencyRecorder) RecordGuardDecision(string, string) {}
func (l *latencyRecorder) RecordAuthOutcome(string, string)   {}
func (l *latencyRecorder) RecordRemoteLatency(op string, _ time.Duration) {
	l.operations = append(l.operations, op)
}
func (l *latencyRecorder) RecordHTTPStatus(int) {}

func newTestForwarder(t *testing.T, baseURL string, collector *latencyRecorder) *APIForwarder {
	t.Helper()
	f, err := NewAPIForwarder(baseURL, nil, CookieConfig{}, collector, discardLogger())
	if err != nil {
		t.Fatalf("NewAPIForwarder returned error: %v", err)
	}
	return f
}

// --- テスト ---

func TestAPIForwarder_ForwardsWithBearerToken(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tasks/42" {
			t.Errorf("upstream path = %q, want /api/tasks/42", r.URL.Path)
		}
		if r.URL.RawQuery != "status=todo" {
			t.Errorf("upstream query = %q, want status=todo", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer AT1" {
			t.Errorf("Authorization = %q, want Bearer AT1", got)
		}
		if got := r.Header.Get("Cookie"); got != "" {
			t.Errorf("Cookie header should not be forwarded, got %q", got)
		}
		if got := r.Header.Get(middleware.CSRFHeaderName); got != "" {
			t.Errorf("CSRF header should not be forwarded, got %q", got)
		}

		http.SetCookie(w, &http.Cookie{Name: credential.AccessTokenCookie, Value: "evil"})
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":42,"title":"write tests"}`))
	}))
	defer upstream.Close()

	collector := &latencyRecorder{}
	f := newTestForwarder(t, upstream.URL+"/api", collector)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/42?status=todo", nil)
	addCookies(req, sessionCookies(t))
	req.Header.Set(middleware.CSRFHeaderName, "csrf")
	w := httptest.NewRecorder()
	f.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"write tests"`) {
		t.Errorf("body = %s", w.Body.String())
	}
	if got := w.Header().Get("Set-Cookie"); got != "" {
		t.Errorf("upstream Set-Cookie should be dropped, got %q", got)
	}
	if len(collector.operations) != 1 || collector.operations[0] != forwardOperation {
		t.Errorf("latency operations = %v, want [%s]", collector.operations, forwardOperation)
	}
}

// TestAPIForwarder_ClientAuthorizationIsReplaced はクライアントが送ったAuthorizationヘッダーが
// Cookieのアクセストークンで上書きされることを検証する。
func TestAPIForwarder_ClientAuthorizationIsReplaced(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer AT1" {
			t.Errorf("Authorization = %q, want Bearer AT1", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	f := newTestForwarder(t, upstream.URL+"/api", &latencyRecorder{})

	req := httptest.NewRequest(http.MethodDelete, "/api/projects/7", nil)
	req.AddCookie(&http.Cookie{Name: credential.AccessTokenCookie, Value: "AT1"})
	req.Header.Set("Authorization", "Bearer forged")
	w := httptest.NewRecorder()
	f.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

func TestAPIForwarder_NoTokenReturns401WithoutCall(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer upstream.Close()

	f := newTestForwarder(t, upstream.URL+"/api", &latencyRecorder{})

	w := httptest.NewRecorder()
	f.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	body := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeNotAuthenticated || body.Message != "Not authenticated" {
		t.Errorf("body = %+v", body)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("upstream called %d times, want 0", calls)
	}
}

func TestAPIForwarder_UpstreamStatusIsPassedThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Not found."}`))
	}))
	defer upstream.Close()

	f := newTestForwarder(t, upstream.URL+"/api", &latencyRecorder{})

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/999", nil)
	req.AddCookie(&http.Cookie{Name: credential.AccessTokenCookie, Value: "AT1"})
	w := httptest.NewRecorder()
	f.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAPIForwarder_UnreachableUpstreamIs502(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := upstream.URL + "/api"
	upstream.Close()

	f := newTestForwarder(t, baseURL, &latencyRecorder{})

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.AddCookie(&http.Cookie{Name: credential.AccessTokenCookie, Value: "AT1"})
	w := httptest.NewRecorder()
	f.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if body := decodeErrorBody(t, w); body.Code != model.ErrCodeTransportFailure {
		t.Errorf("code = %q, want TRANSPORT_FAILURE", body.Code)
	}
}

func TestNewAPIForwarder_RejectsRelativeURL(t *testing.T) {
	if _, err := NewAPIForwarder("/api", nil, CookieConfig{}, nil, discardLogger()); err == nil {
		t.Error("expected error for relative base URL")
	}
}
