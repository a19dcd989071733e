// Package model はドメインモデルを定義する。
package model

// Identity は認証済みユーザーを表す。
// ローカル認証ではEmailのみ、外部IdP経由の場合はNickname・ID・Providerも設定される。
type Identity struct {
	Email    string `json:"email"`
	Nickname string `json:"nickname,omitempty"`
	ID       string `json:"id,omitempty"`
	Provider string `json:"provider,omitempty"` // "kakao" 等。ローカル認証では空
}

// IsExternal は外部IdP経由のログインで発行されたIdentityかどうかを返す。
func (i *Identity) IsExternal() bool {
	return i != nil && i.Provider != ""
}

// Credential はローカル認証用の資格情報を表す。
// パスワードはbcryptハッシュとして保持し、平文は保存しない。
type Credential struct {
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

// Session はクライアントごとの認証状態を表す。
type Session struct {
	Authenticated bool
	Identity      *Identity
}
