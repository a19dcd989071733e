// Package auth は認証状態の管理と外部IdP連携を提供する。
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hitoshi/jomovie/internal/credential"
	"github.com/hitoshi/jomovie/internal/model"
	"github.com/hitoshi/jomovie/internal/storage"
)

// ExternalProvider は外部IdPのインターフェース。
type ExternalProvider interface {
	// Name はプロバイダー名を返す。
	Name() string
	// LoginURL は外部IdPの認可URLを生成する。
	LoginURL(state string) string
	// Exchange は認可コードを検証し、Identityを返す。
	Exchange(ctx context.Context, code string) (*model.Identity, error)
	// Logout は外部IdP側のセッションを終了する。
	Logout(ctx context.Context, identityID string) error
	// ClearToken はプロセス内に保持しているトークンを破棄する。
	ClearToken(identityID string)
}

// LandingPath は外部ログイン完了後の遷移先。
const LandingPath = "/"

// LogoutResult はログアウト処理の結果。
type LogoutResult struct {
	// ReloadRequired は外部IdP由来のセッションを終了したため、
	// クライアント側の状態を破棄して再読み込みする必要があることを示す。
	ReloadRequired bool
}

// Service はプロセス全体で共有する認証の設定を保持し、
// クライアントごとのManagerを生成する。
type Service struct {
	provider ExternalProvider
	credOpts []credential.Option
}

// NewService はServiceを生成する。providerはnilでもよい。
func NewService(provider ExternalProvider, credOpts ...credential.Option) *Service {
	return &Service{provider: provider, credOpts: credOpts}
}

// Provider は設定済みの外部IdPを返す。未設定の場合はExternalProviderUnavailableエラーを返す。
func (s *Service) Provider() (ExternalProvider, error) {
	if s.provider == nil {
		return nil, model.NewExternalProviderUnavailableError()
	}
	return s.provider, nil
}

// Open はクライアントの永続Tierと一時Tierに紐づくManagerを生成し、保存済みの認証状態を復元する。
func (s *Service) Open(ctx context.Context, durable, ephemeral storage.Store) (*Manager, error) {
	m := &Manager{
		durable:   durable,
		ephemeral: ephemeral,
		creds:     credential.NewStore(durable, s.credOpts...),
		provider:  s.provider,
	}
	if err := m.Restore(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Manager はクライアント1つ分の認証状態を管理する。
// 認証状態は isAuthenticated と currentUser の組として永続Tierまたは一時Tierに保存される。
type Manager struct {
	durable   storage.Store
	ephemeral storage.Store
	creds     *credential.Store
	provider  ExternalProvider

	state model.Session
}

// State は現在の認証状態のコピーを返す。
func (m *Manager) State() model.Session {
	s := m.state
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	return s
}

// IsAuthenticated は認証済みかどうかを返す。
func (m *Manager) IsAuthenticated() bool {
	return m.state.Authenticated
}

// Identity は認証済みユーザーを返す。未認証の場合はnil。
func (m *Manager) Identity() *model.Identity {
	if !m.state.Authenticated {
		return nil
	}
	return m.state.Identity
}

// Register は資格情報を登録する。登録後のログインは呼び出し側で行う。
func (m *Manager) Register(ctx context.Context, email, password string) error {
	return m.creds.Register(ctx, email, password)
}

// Login はメールアドレスとパスワードで認証する。
// rememberがtrueの場合は永続Tierに、falseの場合は一時Tierに認証状態を保存する。
// 失敗理由（未登録かパスワード不一致か）は区別せずInvalidCredentialsエラーを返す。
func (m *Manager) Login(ctx context.Context, email, password string, remember bool) error {
	cred, err := m.creds.Find(ctx, email, password)
	if err != nil {
		return fmt.Errorf("failed to find credential: %w", err)
	}
	if cred == nil {
		slog.Info("login rejected", slog.String("email", email))
		return model.NewInvalidCredentialsError()
	}

	target := m.ephemeral
	if remember {
		target = m.durable
	}

	identity := &model.Identity{Email: cred.Email}
	if err := persist(ctx, target, identity); err != nil {
		return err
	}

	m.state = model.Session{Authenticated: true, Identity: identity}
	slog.Info("user logged in",
		slog.String("email", cred.Email),
		slog.Bool("remember", remember),
	)
	return nil
}

// ExternalLogin は外部IdPで検証済みのIdentityでログインする。
// ローカルの資格情報は照合せず、認証状態は常に永続Tierに保存する。遷移先のパスを返す。
func (m *Manager) ExternalLogin(ctx context.Context, identity *model.Identity) (string, error) {
	if identity == nil || identity.Email == "" {
		return "", model.NewExternalLoginFailedError()
	}

	id := *identity
	if err := persist(ctx, m.durable, &id); err != nil {
		return "", err
	}

	m.state = model.Session{Authenticated: true, Identity: &id}
	slog.Info("user logged in with external provider",
		slog.String("email", id.Email),
		slog.String("provider", id.Provider),
	)
	return LandingPath, nil
}

// Logout は認証状態を破棄し、両Tierから認証情報を削除する。
// 外部IdP由来のセッションの場合はIdP側のログアウトとトークン破棄も行い、
// ReloadRequiredを返す。IdP側のログアウト失敗はログに記録するのみで処理を継続する。
func (m *Manager) Logout(ctx context.Context) (LogoutResult, error) {
	var result LogoutResult
	identity := m.state.Identity

	if identity.IsExternal() {
		result.ReloadRequired = true
		if m.provider != nil {
			if err := m.provider.Logout(ctx, identity.ID); err != nil {
				slog.Warn("external provider logout failed",
					slog.String("provider", identity.Provider),
					slog.String("error", err.Error()),
				)
			}
			m.provider.ClearToken(identity.ID)
		}
	}

	m.state = model.Session{}

	for _, s := range []storage.Store{m.durable, m.ephemeral} {
		if err := s.Remove(ctx, storage.KeyAuthenticated); err != nil {
			return result, fmt.Errorf("failed to remove auth flag: %w", err)
		}
		if err := s.Remove(ctx, storage.KeyCurrentUser); err != nil {
			return result, fmt.Errorf("failed to remove current user: %w", err)
		}
	}

	if identity != nil {
		slog.Info("user logged out", slog.String("email", identity.Email))
	}
	return result, nil
}

// Restore は保存済みの認証状態を復元する。永続Tier、一時Tierの順に確認する。
// 壊れたIdentityは無視する。
func (m *Manager) Restore(ctx context.Context) error {
	m.state = model.Session{}

	for _, s := range []storage.Store{m.durable, m.ephemeral} {
		identity, err := restoreFrom(ctx, s)
		if err != nil {
			return err
		}
		if identity != nil {
			m.state = model.Session{Authenticated: true, Identity: identity}
			return nil
		}
	}
	return nil
}

// persist は認証フラグとIdentityを指定したTierに保存する。
func persist(ctx context.Context, s storage.Store, identity *model.Identity) error {
	if err := storage.SetJSON(ctx, s, storage.KeyCurrentUser, identity); err != nil {
		return fmt.Errorf("failed to save current user: %w", err)
	}
	if err := s.Set(ctx, storage.KeyAuthenticated, "true"); err != nil {
		return fmt.Errorf("failed to save auth flag: %w", err)
	}
	return nil
}

// restoreFrom は1つのTierから認証状態を読み込む。認証状態がない場合はnilを返す。
func restoreFrom(ctx context.Context, s storage.Store) (*model.Identity, error) {
	flag, ok, err := s.Get(ctx, storage.KeyAuthenticated)
	if err != nil {
		return nil, fmt.Errorf("failed to load auth flag: %w", err)
	}
	if !ok || flag != "true" {
		return nil, nil
	}

	raw, ok, err := s.Get(ctx, storage.KeyCurrentUser)
	if err != nil {
		return nil, fmt.Errorf("failed to load current user: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var identity model.Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil || identity.Email == "" {
		slog.Warn("ignoring malformed stored identity")
		return nil, nil
	}
	return &identity, nil
}
