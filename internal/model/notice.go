package model

// 通知のタイトル。HTMLページと対話シェルで同じ文言を使う。
const (
	NoticeLoginSuccess    = "Login successful"
	NoticeLoginFailure    = "Login failed"
	NoticeRegisterSuccess = "Registration successful"
	NoticeRegisterFailure = "Registration failed"
	NoticeLoggedOut       = "Logged out"
	NoticeRefreshFailure  = "Session refresh failed"
)

// 通知の既定の説明文。
const (
	NoticeWelcomeBack      = "Welcome back!"
	NoticeCheckCredentials = "Please check your credentials"
	NoticeLoginNewAccount  = "Please log in with your new account"
	NoticeTryAgain         = "Please try again"
	NoticeLoggedOutDetail  = "You have been successfully logged out"
)

// Notice はユーザーに表示する一時的な通知。
type Notice struct {
	Success     bool
	Title       string
	Description string
}

// FailureDescription は通知に表示する説明文をエラーから取り出す。
// メッセージを持たないエラーの場合はfallbackを返す。
func FailureDescription(err error, fallback string) string {
	apiErr := AsAPIError(err)
	if apiErr == nil || apiErr.Message == "" {
		return fallback
	}
	return apiErr.Message
}
