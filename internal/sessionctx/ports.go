package sessionctx

import (
	"context"

	"github.com/hitoshi/taskdeck/internal/model"
	"github.com/hitoshi/taskdeck/internal/validation"
)

// Backend はセッション操作を提供するサーバー側の窓口。
// 全ての失敗は *model.APIError として返すこと。
type Backend interface {
	// CurrentSession は信頼できるサーバー側のアクセサからプロフィールを取得する。
	// セッションがない場合は nil, nil を返す。
	CurrentSession(ctx context.Context) (*model.Profile, error)
	Login(ctx context.Context, input validation.LoginInput) (*model.Profile, error)
	Register(ctx context.Context, input validation.RegisterInput) (string, error)
	Refresh(ctx context.Context) error
	// Logout は遷移先のパスを返す。
	Logout(ctx context.Context) (string, error)
}

// Navigator は画面内遷移を抽象化する。
type Navigator interface {
	CurrentPath() string
	Push(path string)
}

// Notifier はユーザー向け通知を抽象化する。
type Notifier interface {
	Success(title, description string)
	Failure(title, description string)
}
