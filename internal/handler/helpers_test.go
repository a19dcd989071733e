package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/jomovie/internal/auth"
	"github.com/hitoshi/jomovie/internal/catalog"
	"github.com/hitoshi/jomovie/internal/credential"
	"github.com/hitoshi/jomovie/internal/listing"
	"github.com/hitoshi/jomovie/internal/metrics"
	"github.com/hitoshi/jomovie/internal/middleware"
	"github.com/hitoshi/jomovie/internal/model"
	"github.com/hitoshi/jomovie/internal/security"
	"github.com/hitoshi/jomovie/internal/storage"
)

// --- モック定義 ---

// mockCatalog はCatalogServiceのモック実装。
type mockCatalog struct {
	mu sync.Mutex

	popularFn  func(ctx context.Context, page int) (*model.MoviePage, error)
	trendingFn func(ctx context.Context, page int) (*model.MoviePage, error)
	searchFn   func(ctx context.Context, query string, page, genreID int) (*model.MoviePage, error)
	genresFn   func(ctx context.Context) ([]model.Genre, error)
	posterFn   func(ctx context.Context, size, file string) (*catalog.Poster, error)

	searchCalls []searchParams
}

func (m *mockCatalog) Popular(ctx context.Context, page int) (*model.MoviePage, error) {
	if m.popularFn != nil {
		return m.popularFn(ctx, page)
	}
	return &model.MoviePage{Page: page}, nil
}

func (m *mockCatalog) Trending(ctx context.Context, page int) (*model.MoviePage, error) {
	if m.trendingFn != nil {
		return m.trendingFn(ctx, page)
	}
	return &model.MoviePage{Page: page}, nil
}

func (m *mockCatalog) Search(ctx context.Context, query string, page, genreID int) (*model.MoviePage, error) {
	m.mu.Lock()
	m.searchCalls = append(m.searchCalls, searchParams{Query: query, Genre: genreID})
	m.mu.Unlock()
	if m.searchFn != nil {
		return m.searchFn(ctx, query, page, genreID)
	}
	return &model.MoviePage{Page: page}, nil
}

func (m *mockCatalog) Genres(ctx context.Context) ([]model.Genre, error) {
	if m.genresFn != nil {
		return m.genresFn(ctx)
	}
	return []model.Genre{}, nil
}

func (m *mockCatalog) Poster(ctx context.Context, size, file string) (*catalog.Poster, error) {
	if m.posterFn != nil {
		return m.posterFn(ctx, size, file)
	}
	return nil, model.NewFetchFailedError("not configured")
}

func (m *mockCatalog) lastSearch() searchParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.searchCalls) == 0 {
		return searchParams{}
	}
	return m.searchCalls[len(m.searchCalls)-1]
}

// mockProvider はauth.ExternalProviderのモック実装。
type mockProvider struct {
	mu sync.Mutex

	exchangeFn func(ctx context.Context, code string) (*model.Identity, error)
	logoutFn   func(ctx context.Context, identityID string) error

	loggedOut []string
	cleared   []string
}

func (m *mockProvider) Name() string { return "kakao" }

func (m *mockProvider) LoginURL(state string) string {
	return "https://kauth.example.com/oauth/authorize?state=" + url.QueryEscape(state)
}

func (m *mockProvider) Exchange(ctx context.Context, code string) (*model.Identity, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return &model.Identity{Email: "kakao@example.com", Nickname: "kakao", ID: "42", Provider: "kakao"}, nil
}

func (m *mockProvider) Logout(ctx context.Context, identityID string) error {
	m.mu.Lock()
	m.loggedOut = append(m.loggedOut, identityID)
	m.mu.Unlock()
	if m.logoutFn != nil {
		return m.logoutFn(ctx, identityID)
	}
	return nil
}

func (m *mockProvider) ClearToken(identityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, identityID)
}

// recordingMetrics はログインと一覧取得の記録を捕捉するメトリクスのモック。
type recordingMetrics struct {
	metrics.Nop
	mu     sync.Mutex
	logins []string
	lists  []string
}

func (m *recordingMetrics) RecordLogin(method string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.logins = append(m.logins, method+":"+outcome)
}

func (m *recordingMetrics) RecordListFetch(list, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists = append(m.lists, list+":"+status)
}

// --- テスト用サーバー ---

type testEnv struct {
	srv      *httptest.Server
	catalog  *mockCatalog
	provider *mockProvider
	metrics  *recordingMetrics
	durable  *storage.MemoryTier
}

type envOption func(*RouterDeps)

func withoutProvider() envOption {
	return func(d *RouterDeps) {
		d.Providers = auth.NewService(nil, credential.WithHashCost(bcrypt.MinCost))
	}
}

func withRateLimit(cfg middleware.RateLimiterConfig) envOption {
	return func(d *RouterDeps) {
		d.RateLimiter.Stop()
		d.RateLimiter = middleware.NewRateLimiter(cfg)
	}
}

func withStaticDir(dir string) envOption {
	return func(d *RouterDeps) { d.StaticDir = dir }
}

func withHealthChecker(hc HealthChecker) envOption {
	return func(d *RouterDeps) { d.HealthChecker = hc }
}

// newTestEnv はメモリTierとモックで構成したテスト用サーバーを起動する。
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{
		catalog:  &mockCatalog{},
		provider: &mockProvider{},
		metrics:  &recordingMetrics{},
		durable:  storage.NewMemoryTier(0),
	}
	authService := auth.NewService(env.provider, credential.WithHashCost(bcrypt.MinCost))

	deps := &RouterDeps{
		Metrics: env.metrics,
		Client: middleware.ClientConfig{
			DurableTier:   env.durable,
			EphemeralTier: storage.NewMemoryTier(time.Hour),
			Auth:          authService,
			ProfileMaxAge: 3600,
		},
		RateLimiter: middleware.NewRateLimiter(middleware.NewRateLimiterConfig(1000, 1000)),
		Providers:   authService,
		Catalog:     env.catalog,
		Lists:       listing.NewRegistry(100, time.Minute),
		Sanitizer:   security.NewTextSanitizer(),
	}
	for _, opt := range opts {
		opt(deps)
	}
	// withoutProviderの場合はクライアント側のServiceも揃える
	if svc, ok := deps.Providers.(*auth.Service); ok {
		deps.Client.Auth = svc
	}

	env.srv = httptest.NewServer(NewRouter(deps))
	t.Cleanup(func() {
		env.srv.Close()
		deps.RateLimiter.Stop()
	})
	return env
}

// --- ブラウザ相当のテストクライアント ---

// browser はCookieとCSRFトークンを保持するテスト用クライアント。
// 1つのbrowserが1つのブラウザプロファイルのタブ1つに相当する。
type browser struct {
	t      *testing.T
	env    *testEnv
	jar    *cookiejar.Jar
	client *http.Client
}

func (env *testEnv) newBrowser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New() error = %v", err)
	}
	return &browser{
		t:   t,
		env: env,
		jar: jar,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// newTab は同じプロファイルの新しいタブ（ブラウザ再起動後を含む）を開く。
// セッションCookie（タブID）は引き継がない。
func (b *browser) newTab() *browser {
	b.t.Helper()
	nb := b.env.newBrowser(b.t)
	u, _ := url.Parse(b.env.srv.URL)
	var keep []*http.Cookie
	for _, c := range b.jar.Cookies(u) {
		if c.Name != middleware.TabCookieName {
			keep = append(keep, c)
		}
	}
	nb.jar.SetCookies(u, keep)
	return nb
}

func (b *browser) csrfToken() string {
	u, _ := url.Parse(b.env.srv.URL)
	for _, c := range b.jar.Cookies(u) {
		if c.Name == "csrf_token" {
			return c.Value
		}
	}
	// 未取得の場合はトークン取得エンドポイントで発行させる
	resp := b.do(http.MethodGet, "/api/csrf-token", nil)
	defer resp.Body.Close()
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		b.t.Fatalf("failed to decode csrf token: %v", err)
	}
	return body.Token
}

// do はリクエストを送信する。状態変更メソッドにはCSRFトークンを付与する。
func (b *browser) do(method, path string, body any) *http.Response {
	b.t.Helper()

	var r io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			b.t.Fatalf("failed to marshal body: %v", err)
		}
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, b.env.srv.URL+path, r)
	if err != nil {
		b.t.Fatalf("http.NewRequest() error = %v", err)
	}
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && method != http.MethodHead {
		req.Header.Set(middleware.CSRFHeaderName, b.csrfToken())
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s error = %v", method, path, err)
	}
	return resp
}

// call はリクエストを送信し、ステータスコードを返してレスポンスボディをoutにデコードする。
func (b *browser) call(method, path string, body, out any) int {
	b.t.Helper()
	resp := b.do(method, path, body)
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			b.t.Fatalf("%s %s: failed to decode response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (b *browser) register(email, password string) {
	b.t.Helper()
	status := b.call(http.MethodPost, "/auth/register", registerRequest{
		Email: email, Password: password, ConfirmPassword: password, TermsAccepted: true,
	}, nil)
	if status != http.StatusCreated {
		b.t.Fatalf("register status = %d, want %d", status, http.StatusCreated)
	}
}

func (b *browser) login(email, password string, remember bool) int {
	b.t.Helper()
	return b.call(http.MethodPost, "/auth/login", loginRequest{
		Email: email, Password: password, RememberMe: remember,
	}, nil)
}

func (b *browser) me() sessionResponse {
	b.t.Helper()
	var s sessionResponse
	if status := b.call(http.MethodGet, "/auth/me", nil, &s); status != http.StatusOK {
		b.t.Fatalf("GET /auth/me status = %d", status)
	}
	return s
}

// signedIn は登録済み・ログイン状態を保持するブラウザを返す。
func (env *testEnv) signedIn(t *testing.T, email string) *browser {
	t.Helper()
	b := env.newBrowser(t)
	b.register(email, "pw")
	if status := b.login(email, "pw", true); status != http.StatusOK {
		t.Fatalf("login status = %d", status)
	}
	return b
}

func decodeBody(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func moviesPage(page, totalPages int, ids ...int) *model.MoviePage {
	results := make([]model.Movie, 0, len(ids))
	for _, id := range ids {
		results = append(results, model.Movie{ID: id, Title: "movie"})
	}
	return &model.MoviePage{Page: page, Results: results, TotalPages: totalPages}
}

func itemIDs(items []model.Movie) []int {
	ids := make([]int, len(items))
	for i, m := range items {
		ids[i] = m.ID
	}
	return ids
}
