// Package validation はフォーム入力のフィールド単位の検証を提供する。
//
// 検証は例外を投げず、フィールド名（ワイヤ上のJSON名）をキーとする
// エラーメッセージのマップを返す純粋関数として提供する。
// 全てのフォーム（HTML、JSON API、シェル）が同じ関数を使う。
package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/taskdeck/internal/model"
)

// FieldErrors はフィールド名をキーとするバリデーションエラー。
type FieldErrors map[string]string

// OK はエラーがない場合にtrueを返す。
func (f FieldErrors) OK() bool {
	return len(f) == 0
}

// Err はエラーがある場合に VALIDATION_FAILED のAPIErrorを返す。なければnil。
func (f FieldErrors) Err() error {
	if f.OK() {
		return nil
	}
	return model.NewValidationError(f)
}

// LoginInput はログインフォームの入力。
type LoginInput struct {
	Email    string `json:"email" validate:"email"`
	Password string `json:"password" validate:"required"`
}

// RegisterInput はユーザー登録フォームの入力。
type RegisterInput struct {
	Username        string `json:"username" validate:"min=3"`
	Email           string `json:"email" validate:"email"`
	Password        string `json:"password" validate:"min=6"`
	PasswordConfirm string `json:"password_confirm" validate:"eqfield=Password"`
	FirstName       string `json:"first_name" validate:"min=1"`
	LastName        string `json:"last_name" validate:"min=1"`
}

// messages は「フィールド名.タグ」ごとの表示メッセージ。
var messages = map[string]string{
	"email.email":              "Please enter a valid email address",
	"password.required":        "Password is required",
	"username.min":             "Username must be at least 3 characters",
	"password.min":             "Password must be at least 6 characters",
	"password_confirm.eqfield": "Passwords do not match",
	"first_name.min":           "First name is required",
	"last_name.min":            "Last name is required",
}

const defaultMessage = "Invalid value"

// validate はスレッドセーフで、構造体のタグ解析結果をキャッシュする。
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// エラーのフィールド名をJSONタグ名で返すようにする
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidateLogin はログインフォームの入力を検証する。
func ValidateLogin(in LoginInput) FieldErrors {
	in.Email = strings.TrimSpace(in.Email)
	return check(in)
}

// ValidateRegister はユーザー登録フォームの入力を検証する。
// パスワードと確認用パスワードの一致もここで検証する。
func ValidateRegister(in RegisterInput) FieldErrors {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	return check(in)
}

func check(in any) FieldErrors {
	fields := FieldErrors{}

	err := validate.Struct(in)
	if err == nil {
		return fields
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		// 構造体以外が渡された場合のみ到達する
		fields["_"] = err.Error()
		return fields
	}

	for _, fe := range verrs {
		name := fe.Field()
		if _, exists := fields[name]; exists {
			continue
		}
		msg, ok := messages[name+"."+fe.Tag()]
		if !ok {
			msg = defaultMessage
		}
		fields[name] = msg
	}
	return fields
}
