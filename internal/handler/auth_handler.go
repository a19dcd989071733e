// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/jomovie/internal/auth"
	"github.com/hitoshi/jomovie/internal/metrics"
	"github.com/hitoshi/jomovie/internal/model"
)

const oauthStateCookie = "oauth_state"

// clearSiteDataValue は外部IdPからのログアウト時にブラウザへ破棄させる状態。
const clearSiteDataValue = `"cache", "executionContexts"`

// ProviderSource は外部IdPを提供するインターフェース。
// 未設定の場合はExternalProviderUnavailableエラーを返す。
type ProviderSource interface {
	Provider() (auth.ExternalProvider, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AuthHandler は登録・ログイン・ログアウトと外部IdP連携のHTTPハンドラー。
type AuthHandler struct {
	providers ProviderSource
	metrics   metrics.MetricsCollector
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。mcがnilの場合はメトリクスを記録しない。
func NewAuthHandler(providers ProviderSource, mc metrics.MetricsCollector, config AuthHandlerConfig) *AuthHandler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &AuthHandler{
		providers: providers,
		metrics:   mc,
		config:    config,
	}
}

// --- リクエスト・レスポンス型 ---

type registerRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	TermsAccepted   bool   `json:"terms_accepted"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// sessionResponse は認証状態のレスポンス。
type sessionResponse struct {
	Authenticated bool            `json:"authenticated"`
	User          *model.Identity `json:"user,omitempty"`
}

type logoutResponse struct {
	RedirectTo     string `json:"redirect_to"`
	ReloadRequired bool   `json:"reload_required"`
}

func toSessionResponse(s model.Session) sessionResponse {
	return sessionResponse{Authenticated: s.Authenticated, User: s.Identity}
}

// Register は資格情報を登録し、続けて「ログイン状態を保持しない」設定でログインする。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	c, ok := clientFrom(w, r)
	if !ok {
		return
	}

	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	switch {
	case req.Email == "" || req.Password == "":
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(
			"メールアドレスとパスワードを入力してください。",
			"未入力の項目を入力してください。",
		))
		return
	case !req.TermsAccepted:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(
			"利用規約に同意してください。",
			"利用規約を確認し、同意にチェックしてください。",
		))
		return
	case req.Password != req.ConfirmPassword:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(
			"パスワードが一致しません。",
			"確認用パスワードを再入力してください。",
		))
		return
	}

	if err := c.Auth.Register(r.Context(), req.Email, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}

	if err := c.Auth.Login(r.Context(), req.Email, req.Password, false); err != nil {
		h.metrics.RecordLogin("password", false)
		handleServiceError(w, err)
		return
	}
	h.metrics.RecordLogin("password", true)

	writeJSON(w, http.StatusCreated, toSessionResponse(c.Auth.State()))
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	c, ok := clientFrom(w, r)
	if !ok {
		return
	}

	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := c.Auth.Login(r.Context(), strings.TrimSpace(req.Email), req.Password, req.RememberMe); err != nil {
		h.metrics.RecordLogin("password", false)
		handleServiceError(w, err)
		return
	}
	h.metrics.RecordLogin("password", true)

	writeJSON(w, http.StatusOK, toSessionResponse(c.Auth.State()))
}

// Logout は認証状態を破棄する。
// 外部IdP由来のセッションの場合はClear-Site-Dataヘッダーでブラウザ側の状態も破棄させる。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	c, ok := clientFrom(w, r)
	if !ok {
		return
	}

	result, err := c.Auth.Logout(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if result.ReloadRequired {
		w.Header().Set("Clear-Site-Data", clearSiteDataValue)
	}
	writeJSON(w, http.StatusOK, logoutResponse{
		RedirectTo:     auth.SignInPath,
		ReloadRequired: result.ReloadRequired,
	})
}

// Me は現在の認証状態を返す。未認証の場合もauthenticated=falseとして200を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	c, ok := clientFrom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(c.Auth.State()))
}

// KakaoLogin はKakaoの認可フローを開始する。
// GET /auth/kakao/login
func (h *AuthHandler) KakaoLogin(w http.ResponseWriter, r *http.Request) {
	provider, err := h.providers.Provider()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		handleServiceError(w, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/kakao",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, provider.LoginURL(state), http.StatusTemporaryRedirect)
}

// KakaoCallback はKakaoの認可コールバックを処理し、外部IdPのIdentityでログインする。
// GET /auth/kakao/callback?code=xxx&state=yyy
func (h *AuthHandler) KakaoCallback(w http.ResponseWriter, r *http.Request) {
	c, ok := clientFrom(w, r)
	if !ok {
		return
	}
	provider, err := h.providers.Provider()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 1. stateの検証
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch", slog.String("provider", provider.Name()))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(
			"stateパラメータが不正です。",
			"もう一度ログインをお試しください。",
		))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/kakao",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 利用者が同意しなかった場合などはerrorパラメータが付与される
	if idpErr := r.URL.Query().Get("error"); idpErr != "" {
		slog.Info("external login cancelled",
			slog.String("provider", provider.Name()),
			slog.String("error", idpErr),
		)
		h.metrics.RecordLogin(provider.Name(), false)
		handleServiceError(w, model.NewExternalLoginFailedError())
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(
			"認可コードがありません。",
			"もう一度ログインをお試しください。",
		))
		return
	}

	// 3. 認可コードの検証とログイン
	identity, err := provider.Exchange(r.Context(), code)
	if err != nil {
		slog.Warn("external login failed",
			slog.String("provider", provider.Name()),
			slog.String("error", err.Error()),
		)
		h.metrics.RecordLogin(provider.Name(), false)
		handleServiceError(w, model.NewExternalLoginFailedError())
		return
	}

	landing, err := c.Auth.ExternalLogin(r.Context(), identity)
	if err != nil {
		h.metrics.RecordLogin(provider.Name(), false)
		handleServiceError(w, err)
		return
	}
	h.metrics.RecordLogin(provider.Name(), true)

	http.Redirect(w, r, landing, http.StatusFound)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
