// Package credential はセッションの資格情報（アクセストークン、
// リフレッシュトークン）とキャッシュ済みプロフィールの永続化を提供する。
//
// 3つのレコードは独立したCookieとして保存され、複数レコードを
// アトミックに書き込む手段はない。そのため Read は3つ全てが揃っている場合のみ
// セッションを返し、書き込み途中の状態がセッションとして観測されないようにする。
package credential

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/taskdeck/internal/model"
)

// Cookie名
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
	ProfileCookie      = "user_data"
)

// Options はCookieの属性。
type Options struct {
	Secure bool   // 本番環境のみtrue
	Domain string // 空の場合はホストのみ
	MaxAge int    // 有効期間（秒）。0以下の場合は model.SessionMaxAge
}

// Store は1つのCarrierに対するセッションの読み書きを提供する。
// リクエストごとに生成し、リクエスト間で共有しない。
type Store struct {
	carrier Carrier
	opts    Options
}

// NewStore はStoreを生成する。
func NewStore(carrier Carrier, opts Options) *Store {
	if opts.MaxAge <= 0 {
		opts.MaxAge = model.SessionMaxAge
	}
	return &Store{carrier: carrier, opts: opts}
}

// ForRequest はHTTPリクエスト/レスポンスに紐づくStoreを生成する。
func ForRequest(w http.ResponseWriter, r *http.Request, opts Options) *Store {
	return NewStore(NewRequestCarrier(w, r), opts)
}

// Write はトークンとプロフィールを3つのレコードとして書き込む。
// トークンはスクリプトから読めないHttpOnly、プロフィールはスクリプトから読める形で保存する。
func (s *Store) Write(tokens model.TokenPair, profile model.Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	s.carrier.Set(s.cookie(AccessTokenCookie, tokens.AccessToken, true))
	s.carrier.Set(s.cookie(RefreshTokenCookie, tokens.RefreshToken, true))
	// JSONの " や , はCookie値に使えないためURLエンコードする
	s.carrier.Set(s.cookie(ProfileCookie, url.QueryEscape(string(data)), false))

	return nil
}

// Read は保存されているセッションを返す。
// いずれかのレコードが欠けている、またはプロフィールが解析できない場合はnilを返す。
// エラーは返さない。
func (s *Store) Read() *model.Session {
	access, ok := s.AccessToken()
	if !ok {
		return nil
	}
	refresh, ok := s.RefreshToken()
	if !ok {
		return nil
	}
	profile, ok := s.Profile()
	if !ok {
		return nil
	}

	return &model.Session{
		Tokens: model.TokenPair{
			AccessToken:  access,
			RefreshToken: refresh,
		},
		Profile: *profile,
	}
}

// AccessToken はアクセストークンを返す。存在しないか空の場合は false。
func (s *Store) AccessToken() (string, bool) {
	return s.nonEmpty(AccessTokenCookie)
}

// RefreshToken はリフレッシュトークンを返す。存在しないか空の場合は false。
func (s *Store) RefreshToken() (string, bool) {
	return s.nonEmpty(RefreshTokenCookie)
}

// Profile はキャッシュされたプロフィールを返す。
// レコードがない、またはデコードできない場合は false。
func (s *Store) Profile() (*model.Profile, bool) {
	raw, ok := s.nonEmpty(ProfileCookie)
	if !ok {
		return nil, false
	}

	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return nil, false
	}

	var profile model.Profile
	if err := json.Unmarshal([]byte(decoded), &profile); err != nil {
		return nil, false
	}
	return &profile, true
}

// ReplaceAccessToken はアクセストークンのレコードのみを書き換える。
// リフレッシュトークンとプロフィールには触れない。
func (s *Store) ReplaceAccessToken(token string) {
	s.carrier.Set(s.cookie(AccessTokenCookie, token, true))
}

// Clear は3つのレコードを無条件に削除する。何度呼んでもよい。
func (s *Store) Clear() {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie, ProfileCookie} {
		c := s.cookie(name, "", name != ProfileCookie)
		c.MaxAge = -1
		s.carrier.Set(c)
	}
}

func (s *Store) nonEmpty(name string) (string, bool) {
	v, ok := s.carrier.Get(name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (s *Store) cookie(name, value string, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.opts.Domain,
		MaxAge:   s.opts.MaxAge,
		HttpOnly: httpOnly,
		Secure:   s.opts.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}
