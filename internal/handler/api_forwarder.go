package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/taskdeck/internal/credential"
	"github.com/hitoshi/taskdeck/internal/metrics"
	"github.com/hitoshi/taskdeck/internal/middleware"
	"github.com/hitoshi/taskdeck/internal/model"
)

// forwardOperation はメトリクスに記録する転送の操作名。
const forwardOperation = "api_forward"

// apiPrefix はWeb層のAPI名前空間。転送時に取り除き、API_BASE_URLのパスと結合する。
const apiPrefix = "/api"

// APIForwarder はタスク・プロジェクトAPIへのリクエストを、
// 呼び出し元のアクセストークンを付けてリモートAPIへ転送する。
//
//	/api/tasks/42 → {API_BASE_URL}/tasks/42
type APIForwarder struct {
	proxy   *httputil.ReverseProxy
	cookies CookieConfig
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewAPIForwarder はAPIForwarderを生成する。
// transportがnilの場合は http.DefaultTransport を使う。
func NewAPIForwarder(apiBaseURL string, transport http.RoundTripper, cookies CookieConfig, collector metrics.MetricsCollector, logger *slog.Logger) (*APIForwarder, error) {
	target, err := url.Parse(strings.TrimRight(apiBaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse API base URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("API base URL must be absolute: %q", apiBaseURL)
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	f := &APIForwarder{
		cookies: cookies,
		metrics: collector,
		logger:  logger,
	}

	f.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			// 1. /api を取り除いてからベースURLのパスと結合する
			pr.Out.URL.Path = strings.TrimPrefix(pr.Out.URL.Path, apiPrefix)
			pr.Out.URL.RawPath = strings.TrimPrefix(pr.Out.URL.RawPath, apiPrefix)
			pr.SetURL(target)
			pr.SetXForwarded()

			// 2. ブラウザ向けのCookieとCSRFトークンはリモートへ送らない
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del(middleware.CSRFHeaderName)
		},
		Transport: transport,
		ModifyResponse: func(resp *http.Response) error {
			// リモートのCookieでWeb層のセッションCookieを上書きさせない
			resp.Header.Del("Set-Cookie")
			return nil
		},
		ErrorHandler: f.handleError,
	}

	return f, nil
}

// ServeHTTP はアクセストークンがあればリクエストを転送する。
// トークンがない場合はリモートを呼ばずに 401 NOT_AUTHENTICATED を返す。
func (f *APIForwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, ok := credential.ForRequest(w, r, f.cookies.options()).AccessToken()
	if !ok {
		middleware.WriteAPIError(w, model.NewNotAuthenticatedError())
		return
	}

	out := r.Clone(r.Context())
	out.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	f.proxy.ServeHTTP(w, out)
	f.metrics.RecordRemoteLatency(forwardOperation, time.Since(start))
}

func (f *APIForwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	f.logger.Warn("api forward failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)

	if r.Context().Err() != nil {
		// クライアントが切断した場合は応答しない
		return
	}
	middleware.WriteAPIError(w, model.NewTransportError(errors.New("API service unavailable")))
}
