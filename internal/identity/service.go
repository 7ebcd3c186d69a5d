package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/taskdeck/internal/credential"
	"github.com/hitoshi/taskdeck/internal/metrics"
	"github.com/hitoshi/taskdeck/internal/model"
	"github.com/hitoshi/taskdeck/internal/route"
	"github.com/hitoshi/taskdeck/internal/validation"
)

// 操作名（メトリクスのラベル）
const (
	OpLogin    = "login"
	OpRegister = "register"
	OpRefresh  = "refresh"
	OpLogout   = "logout"
)

// RegisterSuccessMessage はユーザー登録成功時に返すメッセージ。
const RegisterSuccessMessage = "Registration successful. Please log in with your new account."

const (
	loginFailedMessage    = "Login failed"
	registerFailedMessage = "Registration failed"
	refreshFailedMessage  = "Token refresh failed"
)

// RemoteAuth はリモート認証サービスの呼び出しを抽象化するインターフェース。
// *Client が実装する。
type RemoteAuth interface {
	Login(ctx context.Context, email, password string) (*LoginResponse, error)
	Register(ctx context.Context, input validation.RegisterInput) error
	Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error)
}

// Service は認証ゲートウェイ。CredentialStore を書き換える唯一のコンポーネント。
// 全ての失敗は *model.APIError として返す。
type Service struct {
	remote  RemoteAuth
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	// refreshGroup は同一リフレッシュトークンによる同時更新を1回の通信にまとめる。
	refreshGroup singleflight.Group
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(remote RemoteAuth, collector metrics.MetricsCollector, logger *slog.Logger) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		remote:  remote,
		metrics: collector,
		logger:  logger,
	}
}

// Login は資格情報をリモートサービスで検証し、成功した場合のみセッションを書き込む。
// 失敗時はstoreに一切触れない。
func (s *Service) Login(ctx context.Context, store *credential.Store, identifier, secret string) (*model.Profile, error) {
	// 1. リモートサービスへ問い合わせ
	start := time.Now()
	resp, err := s.remote.Login(ctx, identifier, secret)
	s.metrics.RecordRemoteLatency(OpLogin, time.Since(start))
	if err != nil {
		apiErr := loginError(err)
		s.recordFailure(OpLogin, apiErr)
		return nil, apiErr
	}

	// 2. プロフィールを構築（欠けているフィールドは既定値で補う）
	profile := buildProfile(resp.User, identifier)

	// 3. 3つのレコードを書き込む
	if err := store.Write(model.TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}, profile); err != nil {
		apiErr := model.NewTransportError(err)
		s.recordFailure(OpLogin, apiErr)
		return nil, apiErr
	}

	s.logger.Info("user logged in",
		slog.Int64("user_id", profile.ID),
		slog.String("role", profile.Role),
	)
	s.metrics.RecordAuthOutcome(OpLogin, "success")
	return &profile, nil
}

// Register はリモートサービスにユーザー登録を依頼する。セッションは作成しない。
// 入力のフィールド検証は呼び出し側（フォーム境界）で済ませておく。
func (s *Service) Register(ctx context.Context, input validation.RegisterInput) (string, error) {
	start := time.Now()
	err := s.remote.Register(ctx, input)
	s.metrics.RecordRemoteLatency(OpRegister, time.Since(start))
	if err != nil {
		apiErr := remoteError(err, registerFailedMessage, "detail", "error")
		s.recordFailure(OpRegister, apiErr)
		return "", apiErr
	}

	s.logger.Info("user registered", slog.String("username", input.Username))
	s.metrics.RecordAuthOutcome(OpRegister, "success")
	return RegisterSuccessMessage, nil
}

// Refresh はリフレッシュトークンでアクセストークンを更新し、
// アクセストークンのレコードのみを書き換える。
// リフレッシュトークンがない場合は通信せずに NOT_AUTHENTICATED を返す。
// 失敗してもセッションは削除しない。
func (s *Service) Refresh(ctx context.Context, store *credential.Store) error {
	refreshToken, ok := store.RefreshToken()
	if !ok {
		apiErr := model.NewNotAuthenticatedError()
		s.recordFailure(OpRefresh, apiErr)
		return apiErr
	}

	// 同じリフレッシュトークンの同時更新は先行する呼び出しの結果を共有する。
	// 先行した呼び出し元のキャンセルが他の待機者に波及しないようにする。
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := s.refreshGroup.Do(refreshToken, func() (any, error) {
		start := time.Now()
		resp, err := s.remote.Refresh(flightCtx, refreshToken)
		s.metrics.RecordRemoteLatency(OpRefresh, time.Since(start))
		if err != nil {
			return nil, err
		}
		return resp.AccessToken, nil
	})
	if err != nil {
		apiErr := remoteError(err, refreshFailedMessage, "error", "detail")
		s.recordFailure(OpRefresh, apiErr)
		return apiErr
	}

	store.ReplaceAccessToken(v.(string))

	s.logger.Debug("access token refreshed", slog.Bool("shared", shared))
	s.metrics.RecordAuthOutcome(OpRefresh, "success")
	return nil
}

// Logout はセッションを削除し、遷移先を返す。失敗しない。
func (s *Service) Logout(store *credential.Store) string {
	store.Clear()
	s.metrics.RecordAuthOutcome(OpLogout, "success")
	return route.LoginPath
}

func (s *Service) recordFailure(op string, apiErr *model.APIError) {
	s.logger.Warn("auth operation failed",
		slog.String("operation", op),
		slog.String("code", apiErr.Code),
		slog.String("message", apiErr.Message),
	)
	s.metrics.RecordAuthOutcome(op, apiErr.Code)
}

// buildProfile はリモートのユーザー情報からプロフィールを構築する。
// emailが欠けている場合は入力された識別子を、roleが欠けている場合は "user" を使う。
func buildProfile(user *RemoteUser, identifier string) model.Profile {
	var u RemoteUser
	if user != nil {
		u = *user
	}

	profile := model.Profile{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
	if profile.Email == "" {
		profile.Email = identifier
	}
	if profile.Role == "" {
		profile.Role = model.DefaultRole
	}
	return profile
}

// loginError はログイン失敗をAPIErrorに変換する。
// 400/401/403 は資格情報の誤り、それ以外の2xx以外はリモートサービスの失敗として扱う。
func loginError(err error) *model.APIError {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return model.NewInvalidCredentialsError(statusErr.Message("error", "detail"))
		}
	}
	return remoteError(err, loginFailedMessage, "error", "detail")
}

// remoteError はリモート呼び出しのエラーをAPIErrorに変換する。
// 2xx以外は REMOTE_SERVICE_FAILURE、通信エラーや不正な応答は TRANSPORT_FAILURE になる。
func remoteError(err error, fallback string, order ...string) *model.APIError {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return model.NewRemoteServiceError(statusErr.Message(order...), fallback)
	}
	return model.NewTransportError(err)
}
