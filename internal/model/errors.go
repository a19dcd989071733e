// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, catalog, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeDuplicateIdentity           = "DUPLICATE_IDENTITY"
	ErrCodeInvalidCredentials          = "INVALID_CREDENTIALS"
	ErrCodeFetchFailed                 = "FETCH_FAILED"
	ErrCodeExternalProviderUnavailable = "EXTERNAL_PROVIDER_UNAVAILABLE"
	ErrCodeExternalLoginFailed         = "EXTERNAL_LOGIN_FAILED"
	ErrCodeUnauthorized                = "UNAUTHORIZED"
	ErrCodeInvalidRequest              = "INVALID_REQUEST"
	ErrCodeUnknownList                 = "UNKNOWN_LIST"
	ErrCodeRateLimitExceeded           = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFInvalid                 = "CSRF_INVALID"
	ErrCodeInternal                    = "INTERNAL_ERROR"
)

// NewDuplicateIdentityError は登録済みメールアドレスでの再登録エラーを生成する。
func NewDuplicateIdentityError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateIdentity,
		Message:  "既に登録されているメールアドレスです。",
		Category: "auth",
		Action:   "別のメールアドレスで登録するか、ログインしてください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレス未登録とパスワード不一致は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して、もう一度ログインしてください。",
	}
}

// NewFetchFailedError はカタログサービスからの取得失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("映画情報の取得に失敗しました: %s", reason),
		Category: "catalog",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewExternalProviderUnavailableError は外部IdPが利用できない場合のエラーを生成する。
func NewExternalProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeExternalProviderUnavailable,
		Message:  "外部ログインサービスを利用できません。",
		Category: "auth",
		Action:   "メールアドレスとパスワードでログインしてください。",
	}
}

// NewExternalLoginFailedError は外部IdPでの認証失敗エラーを生成する。
func NewExternalLoginFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeExternalLoginFailed,
		Message:  "外部ログインに失敗しました。",
		Category: "auth",
		Action:   "もう一度ログインをお試しください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidRequestError はリクエスト内容の検証エラーを生成する。
func NewInvalidRequestError(message, action string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  message,
		Category: "validation",
		Action:   action,
	}
}

// NewUnknownListError は存在しない一覧名が指定された場合のエラーを生成する。
func NewUnknownListError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownList,
		Message:  fmt.Sprintf("指定された一覧は存在しません: %s", name),
		Category: "validation",
		Action:   "popular、trending、search のいずれかを指定してください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFInvalidError はCSRFトークン検証の失敗エラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "リクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
