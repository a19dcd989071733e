package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/jomovie/internal/middleware"
	"github.com/hitoshi/jomovie/internal/model"
)

// TestRegister_LogsInWithoutRemembering は登録後にログイン済みとなり、
// 新しいタブでは認証状態が引き継がれないことを検証する。
func TestRegister_LogsInWithoutRemembering(t *testing.T) {
	env := newTestEnv(t)
	b := env.newBrowser(t)

	b.register("a@example.com", "pw")

	s := b.me()
	if !s.Authenticated || s.User == nil || s.User.Email != "a@example.com" {
		t.Fatalf("登録直後の認証状態が不正: %+v", s)
	}

	if got := b.newTab().me(); got.Authenticated {
		t.Error("ログイン状態を保持しない設定なのに新しいタブで認証済みになっている")
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{
			name: "利用規約に未同意",
			body: registerRequest{Email: "a@example.com", Password: "pw", ConfirmPassword: "pw"},
		},
		{
			name: "確認用パスワードが不一致",
			body: registerRequest{Email: "a@example.com", Password: "pw", ConfirmPassword: "px", TermsAccepted: true},
		},
		{
			name: "メールアドレスが空",
			body: registerRequest{Email: "  ", Password: "pw", ConfirmPassword: "pw", TermsAccepted: true},
		},
		{
			name: "パスワードが空",
			body: registerRequest{Email: "a@example.com", TermsAccepted: true},
		},
		{
			name: "JSONが不正",
			body: "{not json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			b := env.newBrowser(t)

			var body middleware.ErrorResponseBody
			status := b.call(http.MethodPost, "/auth/register", tt.body, &body)
			if status != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", status, http.StatusBadRequest)
			}
			if body.Code != model.ErrCodeInvalidRequest {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidRequest)
			}
			if b.me().Authenticated {
				t.Error("検証エラーなのに認証済みになっている")
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.newBrowser(t).register("a@example.com", "pw")

	var body middleware.ErrorResponseBody
	status := env.newBrowser(t).call(http.MethodPost, "/auth/register", registerRequest{
		Email: "a@example.com", Password: "other", ConfirmPassword: "other", TermsAccepted: true,
	}, &body)

	if status != http.StatusConflict {
		t.Errorf("status = %d, want %d", status, http.StatusConflict)
	}
	if body.Code != model.ErrCodeDuplicateIdentity {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeDuplicateIdentity)
	}
}

func TestLogin_RememberMe(t *testing.T) {
	tests := []struct {
		name        string
		remember    bool
		wantNewTab  bool
		wantSameTab bool
	}{
		{name: "保持する", remember: true, wantNewTab: true, wantSameTab: true},
		{name: "保持しない", remember: false, wantNewTab: false, wantSameTab: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.newBrowser(t).register("a@example.com", "pw")

			b := env.newBrowser(t)
			if status := b.login("a@example.com", "pw", tt.remember); status != http.StatusOK {
				t.Fatalf("login status = %d, want %d", status, http.StatusOK)
			}

			if got := b.me().Authenticated; got != tt.wantSameTab {
				t.Errorf("同じタブの認証状態 = %v, want %v", got, tt.wantSameTab)
			}
			if got := b.newTab().me().Authenticated; got != tt.wantNewTab {
				t.Errorf("新しいタブの認証状態 = %v, want %v", got, tt.wantNewTab)
			}
		})
	}
}

// TestLogin_FailuresAreIndistinguishable はパスワード誤りと未登録メールアドレスで
// 同じレスポンスを返すことを検証する。
func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.newBrowser(t).register("a@example.com", "pw")

	var wrongPassword, unknownEmail middleware.ErrorResponseBody
	b := env.newBrowser(t)
	s1 := b.call(http.MethodPost, "/auth/login", loginRequest{Email: "a@example.com", Password: "bad"}, &wrongPassword)
	s2 := b.call(http.MethodPost, "/auth/login", loginRequest{Email: "b@example.com", Password: "pw"}, &unknownEmail)

	if s1 != http.StatusUnauthorized || s2 != http.StatusUnauthorized {
		t.Fatalf("status = %d, %d, want %d", s1, s2, http.StatusUnauthorized)
	}
	if wrongPassword != unknownEmail {
		t.Errorf("エラー内容が異なる: %+v vs %+v", wrongPassword, unknownEmail)
	}
	if wrongPassword.Code != model.ErrCodeInvalidCredentials {
		t.Errorf("code = %q, want %q", wrongPassword.Code, model.ErrCodeInvalidCredentials)
	}
	if b.me().Authenticated {
		t.Error("ログイン失敗後に認証済みになっている")
	}

	env.metrics.mu.Lock()
	defer env.metrics.mu.Unlock()
	failures := 0
	for _, l := range env.metrics.logins {
		if l == "password:failure" {
			failures++
		}
	}
	if failures != 2 {
		t.Errorf("ログイン失敗の記録数 = %d, want 2 (logins=%v)", failures, env.metrics.logins)
	}
}

func TestLogout_LocalSession(t *testing.T) {
	env := newTestEnv(t)
	b := env.signedIn(t, "a@example.com")

	var body logoutResponse
	resp := b.do(http.MethodPost, "/auth/logout", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if err := decodeBody(resp, &body); err != nil {
		t.Fatal(err)
	}
	if body.RedirectTo != "/signin" {
		t.Errorf("redirect_to = %q, want %q", body.RedirectTo, "/signin")
	}
	if body.ReloadRequired {
		t.Error("ローカル認証のログアウトでreload_required=trueになっている")
	}
	if got := resp.Header.Get("Clear-Site-Data"); got != "" {
		t.Errorf("Clear-Site-Data = %q, want empty", got)
	}

	if b.me().Authenticated {
		t.Error("ログアウト後も認証済みになっている")
	}
	if b.newTab().me().Authenticated {
		t.Error("ログアウト後も保持された認証状態が残っている")
	}
}

func TestLogin_RequiresCSRFToken(t *testing.T) {
	env := newTestEnv(t)
	b := env.newBrowser(t)
	b.csrfToken()

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/auth/login",
		strings.NewReader(`{"email":"a@example.com","password":"pw"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
	var body middleware.ErrorResponseBody
	if err := decodeBody(resp, &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != model.ErrCodeCSRFInvalid {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeCSRFInvalid)
	}
}

func TestLogin_AuthRateLimit(t *testing.T) {
	cfg := middleware.NewRateLimiterConfig(1000, 1000)
	cfg.AuthRate = 0.001
	cfg.AuthBurst = 2
	env := newTestEnv(t, withRateLimit(cfg))
	b := env.newBrowser(t)

	for i := 0; i < 2; i++ {
		if status := b.login("a@example.com", "pw", false); status != http.StatusUnauthorized {
			t.Fatalf("request %d: status = %d, want %d", i+1, status, http.StatusUnauthorized)
		}
	}

	var body middleware.ErrorResponseBody
	status := b.call(http.MethodPost, "/auth/login", loginRequest{Email: "a@example.com", Password: "pw"}, &body)
	if status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", status, http.StatusTooManyRequests)
	}
	if body.Code != model.ErrCodeRateLimitExceeded {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimitExceeded)
	}

	// ログイン以外のAPIは制限されない
	if s := b.me(); s.Authenticated {
		t.Error("未ログインなのに認証済みになっている")
	}
}

func TestKakaoLogin_ProviderUnavailable(t *testing.T) {
	env := newTestEnv(t, withoutProvider())
	b := env.newBrowser(t)

	var body middleware.ErrorResponseBody
	status := b.call(http.MethodGet, "/auth/kakao/login", nil, &body)
	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", status, http.StatusServiceUnavailable)
	}
	if body.Code != model.ErrCodeExternalProviderUnavailable {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeExternalProviderUnavailable)
	}
}

// startKakaoLogin は認可フローを開始し、発行されたstateを返す。
func startKakaoLogin(t *testing.T, b *browser) string {
	t.Helper()
	resp := b.do(http.MethodGet, "/auth/kakao/login", nil)
	resp.Body.Close()

	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("Location is invalid: %v", err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("認可URLにstateが含まれていない")
	}

	var stateCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == oauthStateCookie {
			stateCookie = c
		}
	}
	if stateCookie == nil || stateCookie.Value != state {
		t.Fatalf("state Cookie = %+v, want value %q", stateCookie, state)
	}
	if !stateCookie.HttpOnly {
		t.Error("state CookieがHttpOnlyではない")
	}
	return state
}

func TestKakaoCallback_StateMismatch(t *testing.T) {
	env := newTestEnv(t)
	b := env.newBrowser(t)
	startKakaoLogin(t, b)

	var body middleware.ErrorResponseBody
	status := b.call(http.MethodGet, "/auth/kakao/callback?code=abc&state=forged", nil, &body)
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", status, http.StatusBadRequest)
	}
	if b.me().Authenticated {
		t.Error("state不一致なのに認証済みになっている")
	}
}

// TestKakaoFlow_LoginAndLogout は外部IdPでのログインからログアウトまでを検証する。
func TestKakaoFlow_LoginAndLogout(t *testing.T) {
	env := newTestEnv(t)
	b := env.newBrowser(t)
	state := startKakaoLogin(t, b)

	resp := b.do(http.MethodGet, "/auth/kakao/callback?code=abc&state="+state, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want %q", loc, "/")
	}

	// 外部IdPのログインは常に保持される
	s := b.newTab().me()
	if !s.Authenticated || s.User == nil {
		t.Fatalf("新しいタブで認証状態が復元されない: %+v", s)
	}
	if s.User.Provider != "kakao" || s.User.ID != "42" {
		t.Errorf("user = %+v, want provider kakao id 42", s.User)
	}

	logout := b.do(http.MethodPost, "/auth/logout", nil)
	defer logout.Body.Close()
	var body logoutResponse
	if err := decodeBody(logout, &body); err != nil {
		t.Fatal(err)
	}
	if !body.ReloadRequired {
		t.Error("外部IdPのログアウトでreload_required=falseになっている")
	}
	if got := logout.Header.Get("Clear-Site-Data"); got != clearSiteDataValue {
		t.Errorf("Clear-Site-Data = %q, want %q", got, clearSiteDataValue)
	}

	env.provider.mu.Lock()
	defer env.provider.mu.Unlock()
	if len(env.provider.loggedOut) != 1 || env.provider.loggedOut[0] != "42" {
		t.Errorf("IdPのLogout呼び出し = %v, want [42]", env.provider.loggedOut)
	}
	if len(env.provider.cleared) != 1 {
		t.Errorf("ClearToken呼び出し回数 = %d, want 1", len(env.provider.cleared))
	}
}

func TestKakaoCallback_Failures(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		exchange   func(ctx context.Context, code string) (*model.Identity, error)
		wantStatus int
		wantCode   string
	}{
		{
			name:  "Exchange失敗",
			query: "code=abc",
			exchange: func(context.Context, string) (*model.Identity, error) {
				return nil, errors.New("id token verification failed")
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   model.ErrCodeExternalLoginFailed,
		},
		{
			name:       "利用者が同意を拒否",
			query:      "error=access_denied",
			wantStatus: http.StatusUnauthorized,
			wantCode:   model.ErrCodeExternalLoginFailed,
		},
		{
			name:       "認可コードなし",
			query:      "",
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.provider.exchangeFn = tt.exchange
			b := env.newBrowser(t)
			state := startKakaoLogin(t, b)

			path := "/auth/kakao/callback?state=" + state
			if tt.query != "" {
				path += "&" + tt.query
			}
			var body middleware.ErrorResponseBody
			status := b.call(http.MethodGet, path, nil, &body)

			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if b.me().Authenticated {
				t.Error("ログイン失敗なのに認証済みになっている")
			}
		})
	}
}
