package auth

import "github.com/hitoshi/jomovie/internal/model"

// 画面遷移ゲートのリダイレクト先
const (
	SignInPath = "/signin"
	HomePath   = "/"
)

// ProtectedRedirect は認証が必要な画面へのアクセス可否を判定する。
// 未認証の場合はサインイン画面へのリダイレクト先とtrueを返す。
func ProtectedRedirect(s model.Session) (string, bool) {
	if !s.Authenticated {
		return SignInPath, true
	}
	return "", false
}

// PublicRedirect は未認証ユーザー向け画面へのアクセス可否を判定する。
// 認証済みの場合はホーム画面へのリダイレクト先とtrueを返す。
func PublicRedirect(s model.Session) (string, bool) {
	if s.Authenticated {
		return HomePath, true
	}
	return "", false
}
