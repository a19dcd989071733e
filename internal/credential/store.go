// Package credential はローカル認証用の資格情報ストアを提供する。
// 資格情報はブラウザプロファイル単位の永続Tierに、メールアドレスをキーとした一覧として保存する。
package credential

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/jomovie/internal/model"
	"github.com/hitoshi/jomovie/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

// Option はStoreの設定を変更する。
type Option func(*Store)

// WithHashCost はbcryptのコストを指定する。テストでは bcrypt.MinCost を使用する。
func WithHashCost(cost int) Option {
	return func(s *Store) {
		s.cost = cost
	}
}

// Store は資格情報の登録と照合を行う。
type Store struct {
	durable storage.Store
	cost    int
}

// NewStore はStoreを生成する。
func NewStore(durable storage.Store, opts ...Option) *Store {
	s := &Store{
		durable: durable,
		cost:    bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register は資格情報を登録する。
// 同一メールアドレス（大文字小文字を区別する完全一致）が既に存在する場合は
// DuplicateIdentityエラーを返し、既存の資格情報は変更しない。
// パスワード強度や長さの検証は行わない。
// 同じプロファイルからの並行した登録は直列化され、重複登録は1件のみ成功する。
func (s *Store) Register(ctx context.Context, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword(prehash(password), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	err = storage.UpdateJSON(ctx, s.durable, storage.KeyCredentials, func(creds *[]model.Credential) error {
		for _, c := range *creds {
			if c.Email == email {
				return model.NewDuplicateIdentityError()
			}
		}
		*creds = append(*creds, model.Credential{Email: email, PasswordHash: string(hash)})
		return nil
	})
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	slog.Info("credential registered", slog.String("email", email))
	return nil
}

// Find はメールアドレスとパスワードが一致する資格情報を返す。
// 一致しない場合はnilを返す。未登録とパスワード不一致は区別しない。
func (s *Store) Find(ctx context.Context, email, password string) (*model.Credential, error) {
	creds, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	for i := range creds {
		if creds[i].Email != email {
			continue
		}
		err := bcrypt.CompareHashAndPassword([]byte(creds[i].PasswordHash), prehash(password))
		if err == nil {
			return &creds[i], nil
		}
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, fmt.Errorf("failed to compare password hash: %w", err)
		}
		return nil, nil
	}

	return nil, nil
}

// load は保存済みの資格情報一覧を読み込む。未保存の場合は空の一覧を返す。
func (s *Store) load(ctx context.Context) ([]model.Credential, error) {
	var creds []model.Credential
	if _, err := storage.GetJSON(ctx, s.durable, storage.KeyCredentials, &creds); err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return creds, nil
}

// prehash はパスワードをSHA-256で固定長に変換する。bcryptは72バイトを超える入力を受け付けない。
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}
