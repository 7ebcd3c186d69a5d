package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/taskdeck/internal/credential"
	"github.com/hitoshi/taskdeck/internal/middleware"
	"github.com/hitoshi/taskdeck/internal/model"
	"github.com/hitoshi/taskdeck/internal/route"
	"github.com/hitoshi/taskdeck/internal/validation"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// 画面内通知を指定するクエリパラメータ
const (
	queryRegistered = "registered"
	queryLoggedOut  = "logged_out"
	queryWelcome    = "welcome"
)

// ダッシュボードのセクション
const (
	sectionOverview = "overview"
	sectionTasks    = "tasks"
	sectionProjects = "projects"
)

var pageNames = []string{"login", "register", "dashboard"}

// pageData はテンプレートに渡す値。
type pageData struct {
	Title     string
	CSRFToken string
	Notice    *model.Notice
	Fields    validation.FieldErrors
	Form      map[string]string
	Profile   *model.Profile
	Section   string
}

// PageHandler はログイン・登録・ダッシュボードのHTMLページを提供する。
// フォーム送信はJSON APIと同じ検証関数とAuthGatewayを使う。
type PageHandler struct {
	gateway AuthGateway
	cookies CookieConfig
	logger  *slog.Logger
	pages   map[string]*template.Template
}

// NewPageHandler はPageHandlerを生成する。テンプレートの解析に失敗した場合はエラーを返す。
func NewPageHandler(gateway AuthGateway, cookies CookieConfig, logger *slog.Logger) (*PageHandler, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.ParseFS(templateFS, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		pages[name] = t
	}

	return &PageHandler{
		gateway: gateway,
		cookies: cookies,
		logger:  logger,
		pages:   pages,
	}, nil
}

// StaticHandler は埋め込みの静的アセットを /static/ 以下で配信するハンドラーを返す。
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		// 埋め込みディレクトリは常に存在する
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

// Root はダッシュボードへリダイレクトする。未認証の場合はEdgeGuardがログインへ誘導する。
// GET /
func (h *PageHandler) Root(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, route.DashboardPath, http.StatusFound)
}

// LoginPage はログインフォームを表示する。
// GET /login
func (h *PageHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	data := pageData{Title: "Sign in"}

	query := r.URL.Query()
	switch {
	case query.Has(queryRegistered):
		data.Notice = &model.Notice{
			Success:     true,
			Title:       model.NoticeRegisterSuccess,
			Description: model.NoticeLoginNewAccount,
		}
	case query.Has(queryLoggedOut):
		data.Notice = &model.Notice{
			Success:     true,
			Title:       model.NoticeLoggedOut,
			Description: model.NoticeLoggedOutDetail,
		}
	}

	h.render(w, r, http.StatusOK, "login", data)
}

// LoginSubmit はログインフォームの送信を処理する。
// 成功した場合はダッシュボードへ303で遷移し、失敗した場合はフォームを再表示する。
// POST /login
func (h *PageHandler) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	// 1. フォームの取得
	input := validation.LoginInput{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	data := pageData{
		Title: "Sign in",
		Form:  map[string]string{"email": input.Email},
	}

	// 2. 入力検証（失敗した場合はリモートを呼ばない）
	if fields := validation.ValidateLogin(input); !fields.OK() {
		data.Fields = fields
		h.render(w, r, http.StatusBadRequest, "login", data)
		return
	}

	// 3. ログイン
	store := credential.ForRequest(w, r, h.cookies.options())
	if _, err := h.gateway.Login(r.Context(), store, strings.TrimSpace(input.Email), input.Password); err != nil {
		data.Notice = &model.Notice{
			Title:       model.NoticeLoginFailure,
			Description: model.FailureDescription(err, model.NoticeCheckCredentials),
		}
		h.render(w, r, middleware.StatusCodeFor(model.AsAPIError(err)), "login", data)
		return
	}

	http.Redirect(w, r, withFlag(route.DashboardPath, queryWelcome), http.StatusSeeOther)
}

// RegisterPage はユーザー登録フォームを表示する。
// GET /register
func (h *PageHandler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "register", pageData{Title: "Create account"})
}

// RegisterSubmit はユーザー登録フォームの送信を処理する。
// 成功した場合はログイン画面へ303で遷移する。セッションは作成しない。
// POST /register
func (h *PageHandler) RegisterSubmit(w http.ResponseWriter, r *http.Request) {
	input := validation.RegisterInput{
		Username:        r.PostFormValue("username"),
		Email:           r.PostFormValue("email"),
		Password:        r.PostFormValue("password"),
		PasswordConfirm: r.PostFormValue("password_confirm"),
		FirstName:       r.PostFormValue("first_name"),
		LastName:        r.PostFormValue("last_name"),
	}
	data := pageData{
		Title: "Create account",
		Form: map[string]string{
			"username":   input.Username,
			"email":      input.Email,
			"first_name": input.FirstName,
			"last_name":  input.LastName,
		},
	}

	if fields := validation.ValidateRegister(input); !fields.OK() {
		data.Fields = fields
		h.render(w, r, http.StatusBadRequest, "register", data)
		return
	}

	if _, err := h.gateway.Register(r.Context(), trimRegisterInput(input)); err != nil {
		data.Notice = &model.Notice{
			Title:       model.NoticeRegisterFailure,
			Description: model.FailureDescription(err, model.NoticeTryAgain),
		}
		h.render(w, r, middleware.StatusCodeFor(model.AsAPIError(err)), "register", data)
		return
	}

	http.Redirect(w, r, withFlag(route.LoginPath, queryRegistered), http.StatusSeeOther)
}

// Logout はセッションを削除してログイン画面へ303で遷移する。
// POST /logout
func (h *PageHandler) Logout(w http.ResponseWriter, r *http.Request) {
	store := credential.ForRequest(w, r, h.cookies.options())
	redirect := h.gateway.Logout(store)
	http.Redirect(w, r, withFlag(redirect, queryLoggedOut), http.StatusSeeOther)
}

// Dashboard はキャッシュ済みのプロフィールを表示するダッシュボードのハンドラーを返す。
// GET /dashboard, /dashboard/tasks, /dashboard/projects
func (h *PageHandler) Dashboard(section string) http.HandlerFunc {
	title := "Dashboard"
	switch section {
	case sectionTasks:
		title = "Tasks"
	case sectionProjects:
		title = "Projects"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		data := pageData{Title: title, Section: section}

		// プロフィールは表示専用。認可はリモートサービスがトークンで行う
		store := credential.ForRequest(w, r, h.cookies.options())
		if profile, ok := store.Profile(); ok {
			data.Profile = profile
		}

		if r.URL.Query().Has(queryWelcome) {
			data.Notice = &model.Notice{
				Success:     true,
				Title:       model.NoticeLoginSuccess,
				Description: model.NoticeWelcomeBack,
			}
		}

		h.render(w, r, http.StatusOK, "dashboard", data)
	}
}

// render はテンプレートをバッファに描画してから書き込む。
// 描画に失敗した場合は途中までのHTMLを返さない。
func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	data.CSRFToken = middleware.CSRFTokenFromContext(r.Context())

	var buf bytes.Buffer
	if err := h.pages[name].ExecuteTemplate(&buf, "base", data); err != nil {
		h.logger.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// withFlag はパスにフラグ用のクエリパラメータ（値は1）を付与する。
func withFlag(path, flag string) string {
	u, err := url.Parse(path)
	if err != nil {
		return path
	}
	q := u.Query()
	q.Set(flag, "1")
	u.RawQuery = q.Encode()
	return u.String()
}
