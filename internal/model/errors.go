// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, remote, system
	Action   string // ユーザー向け対処方法

	// Fields はフィールド単位のバリデーションエラー（VALIDATION_FAILEDのみ）。
	Fields map[string]string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotAuthenticated     = "NOT_AUTHENTICATED"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeRemoteServiceFailure = "REMOTE_SERVICE_FAILURE"
	ErrCodeTransportFailure     = "TRANSPORT_FAILURE"
	ErrCodeCSRFInvalid          = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimited          = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewNotAuthenticatedError は必要なトークンが存在しない場合のエラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "Not authenticated",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidCredentialsError はリモートサービスがログインを拒否した場合のエラーを生成する。
// messageが空の場合は既定のメッセージを使う。
func NewInvalidCredentialsError(message string) *APIError {
	if message == "" {
		message = "Login failed"
	}
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  message,
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewValidationError はフォーム入力のバリデーションエラーを生成する。
func NewValidationError(fields map[string]string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "各項目のエラーを確認して再入力してください。",
		Fields:   fields,
	}
}

// NewInvalidRequestError はリクエストボディを解析できない場合のエラーを生成する。
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  message,
		Category: "validation",
		Action:   "リクエストの形式を確認してください。",
	}
}

// NewRemoteServiceError はリモートサービスが2xx以外を返した場合のエラーを生成する。
// messageはサービスが返したメッセージ。空の場合はfallbackを使う。
func NewRemoteServiceError(message, fallback string) *APIError {
	if message == "" {
		message = fallback
	}
	return &APIError{
		Code:     ErrCodeRemoteServiceFailure,
		Message:  message,
		Category: "remote",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewTransportError はリモートサービスに到達できない、または
// 応答が不正な場合のエラーを生成する。
func NewTransportError(err error) *APIError {
	message := "An unexpected error occurred"
	if err != nil && err.Error() != "" {
		message = err.Error()
	}
	return &APIError{
		Code:     ErrCodeTransportFailure,
		Message:  message,
		Category: "remote",
		Action:   "ネットワーク接続を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewCSRFError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRF token validation failed",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitError はリクエスト数が上限を超えた場合のエラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "指定された時間が経過してから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// AsAPIError は任意のエラーをAPIErrorに変換する。
// APIErrorを含まないエラーは TRANSPORT_FAILURE として扱う。
func AsAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewTransportError(err)
}

// HasCode はエラーが指定コードのAPIErrorかどうかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
