// Package identity はリモートの認証サービスとの通信と、
// その結果をセッション（Cookie）へ反映する認証ゲートウェイを提供する。
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/taskdeck/internal/security"
	"github.com/hitoshi/taskdeck/internal/validation"
)

const (
	loginPath    = "/auth/login"
	registerPath = "/auth/register"
	refreshPath  = "/auth/refresh"

	// maxResponseBytes はレスポンスボディの読み取り上限。
	maxResponseBytes = 1 << 20
)

// RemoteUser は認証サービスが返すユーザー情報。
// 欠けているフィールドはゼロ値のまま残る。
type RemoteUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// LoginResponse はログイン成功時のレスポンス。
type LoginResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         *RemoteUser `json:"user"`
}

// RefreshResponse はトークン更新成功時のレスポンス。
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// StatusError はリモートサービスが2xx以外を返したことを表す。
// ErrorText と Detail はレスポンスの error / detail フィールド（サニタイズ済み）。
type StatusError struct {
	StatusCode int
	ErrorText  string
	Detail     string
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	msg := e.Message("error", "detail")
	if msg == "" {
		return fmt.Sprintf("remote service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote service returned status %d: %s", e.StatusCode, msg)
}

// Message は指定した順にフィールドを調べ、最初の空でない値を返す。
func (e *StatusError) Message(order ...string) string {
	for _, field := range order {
		switch field {
		case "error":
			if e.ErrorText != "" {
				return e.ErrorText
			}
		case "detail":
			if e.Detail != "" {
				return e.Detail
			}
		}
	}
	return ""
}

// ErrMalformedResponse は2xxレスポンスのボディが期待する形式でないことを表す。
var ErrMalformedResponse = errors.New("malformed response from remote service")

// Client はリモート認証サービスのHTTPクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	sanitizer  security.MessageSanitizer
	baseURL    string
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURL は末尾のスラッシュを含まない認証サービスのベースURL。
func NewClient(httpClient *http.Client, baseURL string, sanitizer security.MessageSanitizer, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		sanitizer:  sanitizer,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Login はメールアドレスとパスワードでログインし、トークンとユーザー情報を取得する。
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.postJSON(ctx, loginPath, loginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, fmt.Errorf("login response without tokens: %w", ErrMalformedResponse)
	}
	return &resp, nil
}

// Register はユーザーを登録する。成功時のレスポンスボディは使用しない。
func (c *Client) Register(ctx context.Context, input validation.RegisterInput) error {
	return c.postJSON(ctx, registerPath, input, nil)
}

// Refresh はリフレッシュトークンを使って新しいアクセストークンを取得する。
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	var resp RefreshResponse
	if err := c.postJSON(ctx, refreshPath, refreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("refresh response without access token: %w", ErrMalformedResponse)
	}
	return &resp, nil
}

// postJSON はJSONボディをPOSTし、2xxの場合はレスポンスをoutにデコードする。
// outがnilの場合はボディを読み捨てる。
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	// 1. リクエストボディのエンコード
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	// 2. HTTPリクエスト作成
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	// 3. HTTPリクエスト実行
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("remote auth request failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	// 4. レスポンスボディ読み取り
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// 5. HTTPステータスチェック
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errText, detail := extractMessages(data)
		statusErr := &StatusError{
			StatusCode: resp.StatusCode,
			ErrorText:  c.sanitizer.Clean(errText),
			Detail:     c.sanitizer.Clean(detail),
		}
		c.logger.Warn("remote auth service returned error status",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return statusErr
	}

	if out == nil {
		return nil
	}

	// 6. JSONデコード
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Error("failed to parse remote auth response",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return nil
}

// extractMessages はエラーレスポンスから error と detail の文字列を取り出す。
// 文字列以外の値（フィールドごとのエラーなど）は空として扱う。
func extractMessages(data []byte) (errText, detail string) {
	var body struct {
		Error  json.RawMessage `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return "", ""
	}
	return rawString(body.Error), rawString(body.Detail)
}

func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}
