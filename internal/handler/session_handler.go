// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/taskdeck/internal/credential"
	"github.com/hitoshi/taskdeck/internal/middleware"
	"github.com/hitoshi/taskdeck/internal/model"
	"github.com/hitoshi/taskdeck/internal/validation"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 16

// AuthGateway はセッションハンドラーとページハンドラーが必要とする認証サービス。
// CredentialStoreへの書き込みはこのインターフェースを通してのみ行う。
type AuthGateway interface {
	Login(ctx context.Context, store *credential.Store, identifier, secret string) (*model.Profile, error)
	Register(ctx context.Context, input validation.RegisterInput) (string, error)
	Refresh(ctx context.Context, store *credential.Store) error
	Logout(store *credential.Store) string
}

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Domain string
	Secure bool
	MaxAge int // 有効期間（秒）
}

func (c CookieConfig) options() credential.Options {
	return credential.Options{
		Secure: c.Secure,
		Domain: c.Domain,
		MaxAge: c.MaxAge,
	}
}

type sessionResponse struct {
	User *model.Profile `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type redirectResponse struct {
	Redirect string `json:"redirect"`
}

// SessionHandler はJSONのセッションAPIを提供する。
type SessionHandler struct {
	gateway AuthGateway
	cookies CookieConfig
	logger  *slog.Logger
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(gateway AuthGateway, cookies CookieConfig, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		gateway: gateway,
		cookies: cookies,
		logger:  logger,
	}
}

// Session は保存されているセッションのプロフィールを返す。
// セッションがない場合もエラーにはせず {"user": null} を返す。
// GET /api/auth/session
func (h *SessionHandler) Session(w http.ResponseWriter, r *http.Request) {
	store := credential.ForRequest(w, r, h.cookies.options())

	var resp sessionResponse
	if session := store.Read(); session != nil {
		resp.User = &session.Profile
	}
	writeJSON(w, http.StatusOK, resp)
}

// Login はメールアドレスとパスワードでログインし、セッションCookieを発行する。
// POST /api/auth/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	// 1. リクエストボディのデコード
	var input validation.LoginInput
	if !decodeJSONBody(w, r, &input) {
		return
	}

	// 2. 入力検証（失敗した場合はリモートを呼ばない）
	if fields := validation.ValidateLogin(input); !fields.OK() {
		middleware.WriteAPIError(w, fields.Err())
		return
	}

	// 3. ログイン
	store := credential.ForRequest(w, r, h.cookies.options())
	profile, err := h.gateway.Login(r.Context(), store, strings.TrimSpace(input.Email), input.Password)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{User: profile})
}

// Register はユーザーを登録する。セッションは作成しない。
// POST /api/auth/register
func (h *SessionHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input validation.RegisterInput
	if !decodeJSONBody(w, r, &input) {
		return
	}

	if fields := validation.ValidateRegister(input); !fields.OK() {
		middleware.WriteAPIError(w, fields.Err())
		return
	}

	message, err := h.gateway.Register(r.Context(), trimRegisterInput(input))
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, messageResponse{Message: message})
}

// Refresh はリフレッシュトークンでアクセストークンを更新する。
// POST /api/auth/refresh
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	store := credential.ForRequest(w, r, h.cookies.options())
	if err := h.gateway.Refresh(r.Context(), store); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Logout はセッションを削除し、遷移先を返す。常に成功する。
// POST /api/auth/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	store := credential.ForRequest(w, r, h.cookies.options())
	redirect := h.gateway.Logout(store)

	h.logger.Info("session cleared",
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)

	writeJSON(w, http.StatusOK, redirectResponse{Redirect: redirect})
}

// decodeJSONBody はリクエストボディをデコードする。
// 失敗した場合は 400 INVALID_REQUEST を書き込み false を返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		message := "invalid request body"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			message = "request body too large"
		}
		middleware.WriteAPIError(w, model.NewInvalidRequestError(message))
		return false
	}
	return true
}

// trimRegisterInput は検証時と同じく前後の空白を除いた入力を返す。
// パスワードはそのまま送る。
func trimRegisterInput(in validation.RegisterInput) validation.RegisterInput {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	return in
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
