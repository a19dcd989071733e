// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hitoshi/jomovie/internal/auth"
	"github.com/hitoshi/jomovie/internal/storage"
)

// Cookie名
const (
	ProfileCookieName = "profile_id"
	TabCookieName     = "tab_id"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var clientContextKey = contextKey("client")

// Client はリクエスト元のブラウザプロファイルとタブに紐づく状態を表す。
type Client struct {
	ProfileID string
	TabID     string
	// Durable はプロファイル単位の永続Tierのストア。
	Durable storage.Store
	// Ephemeral はタブ単位の一時Tierのストア。
	Ephemeral storage.Store
	// Auth は復元済みの認証状態を持つManager。
	Auth *auth.Manager
}

// ClientConfig はクライアント識別ミドルウェアの設定。
type ClientConfig struct {
	DurableTier   storage.Tier
	EphemeralTier storage.Tier
	Auth          *auth.Service
	// ProfileMaxAge はプロファイルCookieの有効期間（秒）。
	ProfileMaxAge int
	CookieSecure  bool
	CookieDomain  string
}

// NewClientMiddleware はプロファイルCookieとタブCookieからクライアントを識別し、
// スコープ済みのストアと認証状態をリクエストコンテキストに注入するミドルウェアを返す。
// Cookieが無い、または不正な値の場合は新しいIDを発行する。
// プロファイルCookieは長期間有効、タブCookieはブラウザセッション限りとする。
func NewClientMiddleware(cfg ClientConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			profileID := readOrIssueID(w, r, ProfileCookieName, cfg.ProfileMaxAge, cfg)
			tabID := readOrIssueID(w, r, TabCookieName, 0, cfg)
			annotateProfileID(r.Context(), profileID)

			c := &Client{
				ProfileID: profileID,
				TabID:     tabID,
				Durable:   cfg.DurableTier.Scope("profile:" + profileID),
				Ephemeral: cfg.EphemeralTier.Scope("tab:" + tabID),
			}

			manager, err := cfg.Auth.Open(r.Context(), c.Durable, c.Ephemeral)
			if err != nil {
				slog.Error("failed to restore auth state",
					slog.String("profile_id", profileID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			c.Auth = manager

			next.ServeHTTP(w, r.WithContext(ContextWithClient(r.Context(), c)))
		})
	}
}

func readOrIssueID(w http.ResponseWriter, r *http.Request, name string, maxAge int, cfg ClientConfig) string {
	if cookie, err := r.Cookie(name); err == nil {
		if id, err := uuid.Parse(cookie.Value); err == nil {
			return id.String()
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    id,
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// ClientFromContext はリクエストコンテキストからクライアントを取得する。
// クライアント識別ミドルウェアを通過したリクエストでのみ有効。
func ClientFromContext(ctx context.Context) (*Client, error) {
	c, ok := ctx.Value(clientContextKey).(*Client)
	if !ok || c == nil {
		return nil, errors.New("client not found in context")
	}
	return c, nil
}

// ContextWithClient はコンテキストにクライアントを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientContextKey, c)
}

// ProfileIDFromContext はリクエストコンテキストからプロファイルIDを取得する。
// 識別前のリクエストでは空文字を返す。
func ProfileIDFromContext(ctx context.Context) string {
	c, err := ClientFromContext(ctx)
	if err != nil {
		return ""
	}
	return c.ProfileID
}
