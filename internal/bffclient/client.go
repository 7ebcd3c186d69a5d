// Package bffclient はWeb層のJSONセッションAPIを呼び出すHTTPクライアントを提供する。
// Cookie jarでセッションCookieを保持し、sessionctx.Backendとして振る舞う。
package bffclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/taskdeck/internal/model"
	"github.com/hitoshi/taskdeck/internal/route"
	"github.com/hitoshi/taskdeck/internal/validation"
)

const (
	sessionPath   = "/api/auth/session"
	loginPath     = "/api/auth/login"
	registerPath  = "/api/auth/register"
	refreshPath   = "/api/auth/refresh"
	logoutPath    = "/api/auth/logout"
	csrfTokenPath = "/api/csrf-token"

	csrfHeaderName = "X-CSRF-Token"

	maxResponseBytes = 1 << 20
)

type sessionResponse struct {
	User *model.Profile `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type redirectResponse struct {
	Redirect string `json:"redirect"`
}

type errorResponse struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Category string            `json:"category"`
	Action   string            `json:"action"`
	Fields   map[string]string `json:"fields"`
}

// Client はWeb層のセッションAPIクライアント。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	csrfToken string
}

// New はClientを生成する。Cookie jarはpublic suffix listを使って
// Cookieのドメインを判定する。
func New(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL must be absolute: %q", baseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		baseURL: u,
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: timeout,
			// EdgeGuardのリダイレクトは呼び出し側で扱う
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}, nil
}

// CurrentSession はサーバー側に保存されたセッションのプロフィールを返す。
// セッションがない場合は nil, nil。
func (c *Client) CurrentSession(ctx context.Context) (*model.Profile, error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodGet, sessionPath, nil, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Login はログインし、保存されたプロフィールを返す。
func (c *Client) Login(ctx context.Context, input validation.LoginInput) (*model.Profile, error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, loginPath, input, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, model.NewTransportError(fmt.Errorf("login response without user"))
	}
	return resp.User, nil
}

// Register はユーザーを登録し、サーバーのメッセージを返す。
func (c *Client) Register(ctx context.Context, input validation.RegisterInput) (string, error) {
	var resp messageResponse
	if err := c.do(ctx, http.MethodPost, registerPath, input, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Refresh はアクセストークンを更新する。
func (c *Client) Refresh(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, refreshPath, nil, nil)
}

// Logout はログアウトし、遷移先を返す。
func (c *Client) Logout(ctx context.Context) (string, error) {
	var resp redirectResponse
	if err := c.do(ctx, http.MethodPost, logoutPath, nil, &resp); err != nil {
		return route.LoginPath, err
	}
	if resp.Redirect == "" {
		resp.Redirect = route.LoginPath
	}
	return resp.Redirect, nil
}

// FetchAPI はタスク・プロジェクトAPIをGETで呼び出し、レスポンスボディを返す。
// pathは /api/tasks または /api/projects 以下であること。
func (c *Client) FetchAPI(ctx context.Context, path string) (json.RawMessage, error) {
	if !strings.HasPrefix(path, "/api/tasks") && !strings.HasPrefix(path, "/api/projects") {
		return nil, fmt.Errorf("unsupported API path: %s", path)
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// do はリクエストを送信し、2xxの場合はレスポンスをoutにデコードする。
// 失敗は全て *model.APIError として返す。
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	// 1. 状態変更リクエストにはCSRFトークンが必要
	var csrfToken string
	if method != http.MethodGet {
		token, err := c.ensureCSRFToken(ctx)
		if err != nil {
			return err
		}
		csrfToken = token
	}

	// 2. リクエスト作成
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return model.NewTransportError(fmt.Errorf("failed to encode request body: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reader)
	if err != nil {
		return model.NewTransportError(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if csrfToken != "" {
		req.Header.Set(csrfHeaderName, csrfToken)
	}

	// 3. 送信
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("session API request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return model.NewTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.NewTransportError(fmt.Errorf("failed to read response body: %w", err))
	}

	// 4. ステータスチェック
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusForbidden {
			// CSRFトークンが失効している可能性があるため次回取り直す
			c.resetCSRFToken()
		}
		return decodeError(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}

	// 5. デコード
	if err := json.Unmarshal(data, out); err != nil {
		return model.NewTransportError(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// ensureCSRFToken はCSRFトークンを取得する。取得済みであれば再利用する。
func (c *Client) ensureCSRFToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.csrfToken
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodGet, csrfTokenPath, nil, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", model.NewTransportError(fmt.Errorf("empty CSRF token"))
	}

	c.mu.Lock()
	c.csrfToken = resp.Token
	c.mu.Unlock()
	return resp.Token, nil
}

func (c *Client) resetCSRFToken() {
	c.mu.Lock()
	c.csrfToken = ""
	c.mu.Unlock()
}

func (c *Client) resolve(path string) string {
	return c.baseURL.String() + path
}

// decodeError はエラーレスポンスをAPIErrorに変換する。
// 統一フォーマットでない場合はステータスコードから生成する。
func decodeError(status int, data []byte) *model.APIError {
	var body errorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Code != "" {
		return &model.APIError{
			Code:     body.Code,
			Message:  body.Message,
			Category: body.Category,
			Action:   body.Action,
			Fields:   body.Fields,
		}
	}
	return model.NewRemoteServiceError("", fmt.Sprintf("unexpected status %d", status))
}
