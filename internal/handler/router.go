package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/taskdeck/internal/metrics"
	"github.com/hitoshi/taskdeck/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger  *slog.Logger
	Metrics metrics.MetricsCollector

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig

	// セッション
	AuthGateway AuthGateway
	Cookies     CookieConfig

	// タスク・プロジェクトAPIの転送先。nilの場合は転送ルートを登録しない
	APIForwarder http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS → EdgeGuard → CSRF
//
// 認証系のPOST（/login, /register, /api/auth/login, /api/auth/register, /api/auth/refresh）には
// クライアントIP単位のレート制限を追加で適用する。
func NewRouter(deps *RouterDeps) (http.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	pages, err := NewPageHandler(deps.AuthGateway, deps.Cookies, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create page handler: %w", err)
	}
	sessions := NewSessionHandler(deps.AuthGateway, deps.Cookies, logger)

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	// レート制限のキーに使うRemoteAddrをプロキシヘッダーから復元する
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, collector))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{HSTS: deps.Cookies.Secure}))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewEdgeGuard(collector))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

	// --- 静的アセット（EdgeGuardの対象外） ---
	r.Handle("/static/*", StaticHandler())
	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// 認証系のPOSTにのみ適用するレート制限
	authLimit := func(next http.Handler) http.Handler { return next }
	if deps.RateLimiter != nil {
		authLimit = deps.RateLimiter.AuthMiddleware()
	}

	// --- HTMLページ ---
	r.Get("/", pages.Root)
	r.Get("/login", pages.LoginPage)
	r.With(authLimit).Post("/login", pages.LoginSubmit)
	r.Get("/register", pages.RegisterPage)
	r.With(authLimit).Post("/register", pages.RegisterSubmit)
	r.Post("/logout", pages.Logout)

	r.Route("/dashboard", func(r chi.Router) {
		r.Get("/", pages.Dashboard(sectionOverview))
		r.Get("/tasks", pages.Dashboard(sectionTasks))
		r.Get("/projects", pages.Dashboard(sectionProjects))
	})

	// --- JSON API ---
	r.Get("/api/health", Health)
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)

	r.Route("/api/auth", func(r chi.Router) {
		r.Get("/session", sessions.Session)
		r.With(authLimit).Post("/login", sessions.Login)
		r.With(authLimit).Post("/register", sessions.Register)
		r.With(authLimit).Post("/refresh", sessions.Refresh)
		r.Post("/logout", sessions.Logout)
	})

	// --- タスク・プロジェクトAPIの転送 ---
	if deps.APIForwarder != nil {
		for _, prefix := range []string{"/api/tasks", "/api/projects"} {
			r.Handle(prefix, deps.APIForwarder)
			r.Handle(prefix+"/*", deps.APIForwarder)
		}
	}

	return r, nil
}
