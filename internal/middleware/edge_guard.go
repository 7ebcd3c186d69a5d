package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/taskdeck/internal/credential"
	"github.com/hitoshi/taskdeck/internal/metrics"
	"github.com/hitoshi/taskdeck/internal/route"
)

// ガード判定のメトリクスラベル
const (
	guardActionAllow             = "allow"
	guardActionRedirectLogin     = "redirect_login"
	guardActionRedirectDashboard = "redirect_dashboard"
)

// NewEdgeGuard はページリクエストごとにアクセス可否を判定するミドルウェアを返す。
// 判定の根拠はアクセストークンCookieの有無のみで、署名や有効期限は検証しない。
// API・静的アセット・faviconは判定せずに通過させる。
func NewEdgeGuard(recorder metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if recorder == nil {
		recorder = metrics.NopCollector{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if route.Excluded(path) {
				next.ServeHTTP(w, r)
				return
			}

			_, authenticated := credential.ForRequest(w, r, credential.Options{}).AccessToken()
			decision := route.Decide(path, authenticated)
			class := route.Classify(path).String()

			if decision.Allow {
				recorder.RecordGuardDecision(class, guardActionAllow)
				next.ServeHTTP(w, r)
				return
			}

			action := guardActionRedirectLogin
			if decision.RedirectTo == route.DashboardPath {
				action = guardActionRedirectDashboard
			}
			recorder.RecordGuardDecision(class, action)

			slog.Debug("edge guard redirect",
				slog.String("path", path),
				slog.String("route_class", class),
				slog.String("redirect_to", decision.RedirectTo),
			)
			http.Redirect(w, r, decision.RedirectTo, redirectStatus(r.Method))
		})
	}
}

// redirectStatus はリダイレクトのステータスを返す。
// GET・HEAD以外は303で、遷移先をGETで表示させる。
func redirectStatus(method string) int {
	if method == http.MethodGet || method == http.MethodHead {
		return http.StatusTemporaryRedirect
	}
	return http.StatusSeeOther
}
