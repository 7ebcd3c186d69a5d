// Package model はドメインモデルを定義する。
package model

// Profile はセッションにキャッシュされるユーザー属性を表す。
// クライアント側で検証されない値であり、認可の根拠には使わない。
type Profile struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// DefaultRole はリモートサービスがroleを返さない場合に使う値。
const DefaultRole = "user"

// TokenPair はリモートの認証サービスが発行する資格情報の組。
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Session は認証状態の単位。アクセストークン、リフレッシュトークン、
// プロフィールの3つが揃っている場合のみ存在する。
// 欠けている状態は「セッションなし」として nil で表現する。
type Session struct {
	Tokens  TokenPair
	Profile Profile
}

// SessionMaxAge はセッションを構成する3つのレコードの有効期間（秒）。7日。
const SessionMaxAge = 60 * 60 * 24 * 7
