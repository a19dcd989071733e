package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hitoshi/jomovie/internal/model"
	"golang.org/x/oauth2"
)

const (
	defaultKakaoIssuer    = "https://kauth.kakao.com"
	defaultKakaoAuthURL   = "https://kauth.kakao.com/oauth/authorize"
	defaultKakaoTokenURL  = "https://kauth.kakao.com/oauth/token"
	defaultKakaoJWKSURL   = "https://kauth.kakao.com/.well-known/jwks.json"
	defaultKakaoLogoutURL = "https://kapi.kakao.com/v1/user/logout"

	// ProviderKakao はKakao経由のIdentityに設定されるプロバイダー名。
	ProviderKakao = "kakao"
)

// KakaoConfig はKakaoプロバイダーの設定。
type KakaoConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Issuer       string

	// テスト用にオーバーライド可能なURL
	AuthURL   string
	TokenURL  string
	JWKSURL   string
	LogoutURL string

	HTTPClient *http.Client
}

// KakaoProvider はKakao Login（OpenID Connect）による外部認証を提供する。
// 発行されたアクセストークンはプロセス内に保持し、ログアウト時のトークン失効に使用する。
type KakaoProvider struct {
	oauth     *oauth2.Config
	verifier  *oidc.IDTokenVerifier
	client    *http.Client
	logoutURL string

	mu     sync.Mutex
	tokens map[string]*oauth2.Token
}

// kakaoClaims はKakaoのIDトークンに含まれるクレーム。
type kakaoClaims struct {
	Sub      string `json:"sub"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}

// NewKakaoProvider はKakaoProviderを生成する。
// JWKSの取得は初回検証時まで遅延されるため、生成時に外部通信は発生しない。
func NewKakaoProvider(cfg KakaoConfig) *KakaoProvider {
	return newKakaoProvider(cfg, false)
}

func newKakaoProvider(cfg KakaoConfig, skipSignatureCheck bool) *KakaoProvider {
	if cfg.Issuer == "" {
		cfg.Issuer = defaultKakaoIssuer
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultKakaoAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultKakaoTokenURL
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = defaultKakaoJWKSURL
	}
	if cfg.LogoutURL == "" {
		cfg.LogoutURL = defaultKakaoLogoutURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	keyCtx := oidc.ClientContext(context.Background(), cfg.HTTPClient)
	verifier := oidc.NewVerifier(cfg.Issuer, oidc.NewRemoteKeySet(keyCtx, cfg.JWKSURL), &oidc.Config{
		ClientID:                   cfg.ClientID,
		InsecureSkipSignatureCheck: skipSignatureCheck,
	})

	return &KakaoProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{oidc.ScopeOpenID, "profile_nickname", "account_email"},
		},
		verifier:  verifier,
		client:    cfg.HTTPClient,
		logoutURL: cfg.LogoutURL,
		tokens:    make(map[string]*oauth2.Token),
	}
}

// Name はプロバイダー名を返す。
func (p *KakaoProvider) Name() string {
	return ProviderKakao
}

// LoginURL はKakaoの認可URLを生成する。
func (p *KakaoProvider) LoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange は認可コードをトークンに交換し、IDトークンを検証してIdentityを返す。
func (p *KakaoProvider) Exchange(ctx context.Context, code string) (*model.Identity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("no id_token in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id token: %w", err)
	}

	var claims kakaoClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse id token claims: %w", err)
	}
	if claims.Sub == "" {
		return nil, errors.New("empty sub in id token")
	}

	// メールアドレス提供に同意していないアカウントはsubをキーとして扱う
	email := claims.Email
	if email == "" {
		email = ProviderKakao + "_" + claims.Sub
	}

	p.mu.Lock()
	p.tokens[claims.Sub] = token
	p.mu.Unlock()

	return &model.Identity{
		Email:    email,
		Nickname: claims.Nickname,
		ID:       claims.Sub,
		Provider: ProviderKakao,
	}, nil
}

// Logout はKakao側のアクセストークンを失効させる。
// 保持しているトークンがない場合は何もしない。
func (p *KakaoProvider) Logout(ctx context.Context, identityID string) error {
	p.mu.Lock()
	token := p.tokens[identityID]
	p.mu.Unlock()

	if token == nil || token.AccessToken == "" {
		slog.Debug("no kakao token to revoke", slog.String("identity_id", identityID))
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.logoutURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create logout request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("logout failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// ClearToken はプロセス内に保持しているアクセストークンを破棄する。
func (p *KakaoProvider) ClearToken(identityID string) {
	p.mu.Lock()
	delete(p.tokens, identityID)
	p.mu.Unlock()
}

// compile-time interface check
var _ ExternalProvider = (*KakaoProvider)(nil)
