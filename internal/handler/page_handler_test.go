package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/taskdeck/internal/credential"
	"github.com/hitoshi/taskdeck/internal/model"
	"github.com/hitoshi/taskdeck/internal/validation"
)

func newTestPageHandler(t *testing.T, gw AuthGateway) *PageHandler {
	t.Helper()
	h, err := NewPageHandler(gw, CookieConfig{}, discardLogger())
	if err != nil {
		t.Fatalf("NewPageHandler returned error: %v", err)
	}
	return h
}

func formRequest(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func validRegisterForm() url.Values {
	return url.Values{
		"username":         {"alice"},
		"email":            {"a@b.com"},
		"password":         {"secret1"},
		"password_confirm": {"secret1"},
		"first_name":       {"Alice"},
		"last_name":        {"Liddell"},
	}
}

func TestPageHandler_LoginPage(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		wantTexts []string
	}{
		{"通知なし", "/login", []string{`action="/login"`, `name="csrf_token"`}},
		{"登録完了の通知", "/login?registered=1", []string{model.NoticeRegisterSuccess, model.NoticeLoginNewAccount}},
		{"ログアウトの通知", "/login?logged_out=1", []string{model.NoticeLoggedOut, model.NoticeLoggedOutDetail}},
	}

	h := newTestPageHandler(t, &mockAuthGateway{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.LoginPage(w, httptest.NewRequest(http.MethodGet, tt.target, nil))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
				t.Errorf("Content-Type = %q", ct)
			}
			body := w.Body.String()
			for _, want := range tt.wantTexts {
				if !strings.Contains(body, want) {
					t.Errorf("body should contain %q", want)
				}
			}
		})
	}
}

func TestPageHandler_LoginSubmit_Success(t *testing.T) {
	gw := &mockAuthGateway{
		loginFn: func(ctx context.Context, store *credential.Store, identifier, secret string) (*model.Profile, error) {
			writeSession(t, store)
			p := testProfile
			return &p, nil
		},
	}
	h := newTestPageHandler(t, gw)

	w := httptest.NewRecorder()
	h.LoginSubmit(w, formRequest("/login", url.Values{"email": {"a@b.com"}, "password": {"secret1"}}))

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/dashboard?welcome=1" {
		t.Errorf("Location = %q, want /dashboard?welcome=1", loc)
	}
	if c := responseCookie(w.Result(), credential.AccessTokenCookie); c == nil || c.Value != "AT1" {
		t.Errorf("access_token cookie = %+v", c)
	}
}

func TestPageHandler_LoginSubmit_ValidationFailureRerendersForm(t *testing.T) {
	gw := &mockAuthGateway{}
	h := newTestPageHandler(t, gw)

	w := httptest.NewRecorder()
	h.LoginSubmit(w, formRequest("/login", url.Values{"email": {"bad<script>"}, "password": {""}}))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Please enter a valid email address") {
		t.Error("email error should be rendered")
	}
	if !strings.Contains(body, "Password is required") {
		t.Error("password error should be rendered")
	}
	if strings.Contains(body, "bad<script>") {
		t.Error("submitted value should be HTML-escaped")
	}
	if gw.loginCalls != 0 {
		t.Error("gateway should not be called when validation fails")
	}
}

func TestPageHandler_LoginSubmit_GatewayFailureShowsNotice(t *testing.T) {
	gw := &mockAuthGateway{
		loginFn: func(ctx context.Context, store *credential.Store, identifier, secret string) (*model.Profile, error) {
			return nil, model.NewInvalidCredentialsError("Invalid credentials")
		},
	}
	h := newTestPageHandler(t, gw)

	w := httptest.NewRecorder()
	h.LoginSubmit(w, formRequest("/login", url.Values{"email": {"a@b.com"}, "password": {"wrong"}}))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, model.NoticeLoginFailure) || !strings.Contains(body, "Invalid credentials") {
		t.Errorf("failure notice not rendered: %s", body)
	}
	if !strings.Contains(body, `value="a@b.com"`) {
		t.Error("email should be kept in the form")
	}
}

func TestPageHandler_RegisterSubmit_Success(t *testing.T) {
	var got validation.RegisterInput
	gw := &mockAuthGateway{
		registerFn: func(ctx context.Context, input validation.RegisterInput) (string, error) {
			got = input
			return "ok", nil
		},
	}
	h := newTestPageHandler(t, gw)

	w := httptest.NewRecorder()
	h.RegisterSubmit(w, formRequest("/register", validRegisterForm()))

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/login?registered=1" {
		t.Errorf("Location = %q, want /login?registered=1", loc)
	}
	if got.Email != "a@b.com" || got.PasswordConfirm != "secret1" {
		t.Errorf("input = %+v", got)
	}
}

func TestPageHandler_RegisterSubmit_PasswordMismatch(t *testing.T) {
	gw := &mockAuthGateway{}
	h := newTestPageHandler(t, gw)

	form := validRegisterForm()
	form.Set("password_confirm", "secret2")
	w := httptest.NewRecorder()
	h.RegisterSubmit(w, formRequest("/register", form))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Passwords do not match") {
		t.Error("mismatch error should be rendered")
	}
	if gw.registerCalls != 0 {
		t.Error("gateway should not be called")
	}
}

func TestPageHandler_RegisterSubmit_GatewayFailure(t *testing.T) {
	gw := &mockAuthGateway{
		registerFn: func(ctx context.Context, input validation.RegisterInput) (string, error) {
			return "", model.NewRemoteServiceError("", "Registration failed")
		},
	}
	h := newTestPageHandler(t, gw)

	w := httptest.NewRecorder()
	h.RegisterSubmit(w, formRequest("/register", validRegisterForm()))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if !strings.Contains(w.Body.String(), model.NoticeRegisterFailure) {
		t.Error("failure notice should be rendered")
	}
}

func TestPageHandler_Logout_RedirectsWithNotice(t *testing.T) {
	h := newTestPageHandler(t, &mockAuthGateway{})

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	addCookies(req, sessionCookies(t))
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/login?logged_out=1" {
		t.Errorf("Location = %q", loc)
	}
	if c := responseCookie(w.Result(), credential.AccessTokenCookie); c == nil || c.MaxAge >= 0 {
		t.Errorf("access_token should be deleted, got %+v", c)
	}
}

func TestPageHandler_Dashboard(t *testing.T) {
	h := newTestPageHandler(t, &mockAuthGateway{})

	tests := []struct {
		name    string
		section string
		target  string
		want    []string
	}{
		{"概要", sectionOverview, "/dashboard?welcome=1", []string{"Alice Liddell", "Signed in as a@b.com", model.NoticeWelcomeBack}},
		{"タスク", sectionTasks, "/dashboard/tasks", []string{"<h1>Tasks</h1>", `data-source="/api/tasks"`}},
		{"プロジェクト", sectionProjects, "/dashboard/projects", []string{"<h1>Projects</h1>", `data-source="/api/projects"`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			addCookies(req, sessionCookies(t))
			w := httptest.NewRecorder()
			h.Dashboard(tt.section)(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			body := w.Body.String()
			for _, want := range tt.want {
				if !strings.Contains(body, want) {
					t.Errorf("body should contain %q", want)
				}
			}
		})
	}
}

// TestPageHandler_Dashboard_WithoutProfile はプロフィールのCookieがない場合も
// ダッシュボードを表示できることを検証する。
func TestPageHandler_Dashboard_WithoutProfile(t *testing.T) {
	h := newTestPageHandler(t, &mockAuthGateway{})

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: credential.AccessTokenCookie, Value: "AT1"})
	w := httptest.NewRecorder()
	h.Dashboard(sectionOverview)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Signed in") {
		t.Error("fallback account label should be rendered")
	}
}

func TestWithFlag(t *testing.T) {
	tests := []struct {
		path, flag, want string
	}{
		{"/login", "logged_out", "/login?logged_out=1"},
		{"/dashboard?tab=a", "welcome", "/dashboard?tab=a&welcome=1"},
	}
	for _, tt := range tests {
		if got := withFlag(tt.path, tt.flag); got != tt.want {
			t.Errorf("withFlag(%q, %q) = %q, want %q", tt.path, tt.flag, got, tt.want)
		}
	}
}
