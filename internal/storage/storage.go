// Package storage はクライアントごとのキー・値ストレージ層を提供する。
//
// ストレージは永続層（ブラウザプロファイル単位、再起動後も残る）と
// 一時層（タブ/ブラウザセッション単位）の2つのTierで構成される。
// 各Tierはスコープ名ごとに独立したStoreを払い出す。
package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store はスコープ済みのキー・値ストアのインターフェース。
// 値は文字列として保存され、1つの値の書き込みはアトミックに行われる。
type Store interface {
	// Get は指定キーの値を返す。存在しない場合はfalseを返す。
	Get(ctx context.Context, key string) (string, bool, error)
	// Set は指定キーに値を書き込む。
	Set(ctx context.Context, key, value string) error
	// Remove は指定キーを削除する。存在しない場合もエラーにしない。
	Remove(ctx context.Context, key string) error
}

// UpdateFunc は現在の値から新しい値を組み立てる。okは値が存在したかどうか。
// エラーを返した場合は何も書き込まない。fnの中から同じStoreを操作してはならない。
type UpdateFunc func(current string, ok bool) (string, error)

// Updater は読み取りから書き込みまでを不可分に行えるStore。
// 同じキーへの並行したUpdateは直列化される。
type Updater interface {
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// Tier はスコープ単位のStoreを払い出すストレージ階層のインターフェース。
type Tier interface {
	// Scope は指定スコープに閉じたStoreを返す。
	Scope(name string) Store
}

// 保存に使用するキー
const (
	KeyAuthenticated = "isAuthenticated"
	KeyCurrentUser   = "currentUser"
	KeyCredentials   = "users"
)

// WishlistKey はユーザーごとのウィッシュリストのキーを返す。
func WishlistKey(email string) string {
	return "wishlist_" + email
}

// SearchHistoryKey はユーザーごとの検索履歴のキーを返す。
func SearchHistoryKey(email string) string {
	return "searchHistory_" + email
}

// GetJSON は指定キーの値をJSONとしてデコードする。
// キーが存在しない場合はfalseを返し、vは変更しない。
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON はvをJSONにシリアライズして指定キーに書き込む。
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(b))
}

// Update は指定キーの値をfnで更新する。
// sがUpdaterを実装していない場合は読み取りと書き込みを順に行うだけで、不可分性は保証しない。
func Update(ctx context.Context, s Store, key string, fn UpdateFunc) error {
	if u, ok := s.(Updater); ok {
		return u.Update(ctx, key, fn)
	}
	current, ok, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	next, err := fn(current, ok)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, next)
}

// UpdateJSON は指定キーの値をJSONとしてデコードし、fnで変更した結果を書き戻す。
// キーが存在しない場合、fnにはTのゼロ値が渡される。
func UpdateJSON[T any](ctx context.Context, s Store, key string, fn func(v *T) error) error {
	return Update(ctx, s, key, func(current string, ok bool) (string, error) {
		var v T
		if ok {
			if err := json.Unmarshal([]byte(current), &v); err != nil {
				return "", fmt.Errorf("failed to decode %s: %w", key, err)
			}
		}
		if err := fn(&v); err != nil {
			return "", err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode %s: %w", key, err)
		}
		return string(b), nil
	})
}
