// Package route はパスの分類とアクセス可否の判定を提供する。
// EdgeGuard（リクエスト時）とSessionContext（画面内遷移時）の両方が
// 同じ Decide を使うことで、2つの層の判定が食い違わないようにする。
package route

import "strings"

const (
	// LoginPath はログイン画面のパス。
	LoginPath = "/login"
	// RegisterPath はユーザー登録画面のパス。
	RegisterPath = "/register"
	// DashboardPath は認証済みユーザーの既定の遷移先。
	DashboardPath = "/dashboard"
)

// Class はパスの分類を表す。
type Class int

const (
	// Protected はセッションが必要なパス。
	Protected Class = iota
	// Public はセッション不要のパス（ログイン・登録）。
	Public
)

// String はログ出力用の名前を返す。
func (c Class) String() string {
	if c == Public {
		return "public"
	}
	return "protected"
}

// publicPaths はセッション不要のパスの集合。完全一致で判定する。
var publicPaths = map[string]struct{}{
	LoginPath:    {},
	RegisterPath: {},
}

// excludedPrefixes は判定対象外とするパスのプレフィックス。
// APIの名前空間と静的アセットはEdgeGuardを通さない。
var excludedPrefixes = []string{
	"/api",
	"/static",
}

// excludedExact は判定対象外とするパス（完全一致）。
var excludedExact = map[string]struct{}{
	"/favicon.ico": {},
}

// Decision はパスと認証状態から導かれる判定結果。
// Allow が false の場合は RedirectTo へ遷移させる。
type Decision struct {
	Allow      bool
	RedirectTo string
}

// Classify はパスを Public または Protected に分類する。
func Classify(path string) Class {
	if _, ok := publicPaths[path]; ok {
		return Public
	}
	return Protected
}

// Excluded はパスが判定対象外（API・静的アセット・favicon）かどうかを返す。
// プレフィックスはセグメント単位で比較する（"/apiary" は対象外にならない）。
func Excluded(path string) bool {
	if _, ok := excludedExact[path]; ok {
		return true
	}
	for _, prefix := range excludedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// Decide はパスと認証状態からアクセス可否を判定する。
//
//	未認証 × Protected → /login へリダイレクト
//	未認証 × Public    → 通過
//	認証済 × Public    → /dashboard へリダイレクト
//	認証済 × Protected → 通過
//
// 除外パスかどうかは呼び出し側が Excluded で先に判定する。
func Decide(path string, authenticated bool) Decision {
	class := Classify(path)

	switch {
	case !authenticated && class == Protected:
		return Decision{RedirectTo: LoginPath}
	case authenticated && class == Public:
		return Decision{RedirectTo: DashboardPath}
	default:
		return Decision{Allow: true}
	}
}
