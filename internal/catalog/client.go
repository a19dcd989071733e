// Package catalog は映画カタログサービス（TMDB）のクライアントを提供する。
// 人気作品・トレンド・検索・ジャンル一覧の取得と、ポスター画像の中継を含む。
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/hitoshi/jomovie/internal/metrics"
	"github.com/hitoshi/jomovie/internal/model"
	"github.com/hitoshi/jomovie/internal/security"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL はTMDB APIのベースURL。
	DefaultBaseURL = "https://api.themoviedb.org/3"
	// DefaultImageBaseURL はTMDB画像配信のベースURL。
	DefaultImageBaseURL = "https://image.tmdb.org/t/p"
	// DefaultLanguage は結果の表示言語。
	DefaultLanguage = "ko-KR"

	// maxResponseSize はAPIレスポンスの最大サイズ（2MB）。
	maxResponseSize = 2 * 1024 * 1024
	// genreCacheSize はジャンル一覧を保持する言語数の上限。
	genreCacheSize = 8
)

// Config はカタログクライアントの設定。
type Config struct {
	BaseURL      string
	ImageBaseURL string
	APIKey       string
	Language     string
	// RateLimit は1秒あたりの最大リクエスト数。0以下の場合は制限しない。
	RateLimit     float64
	GenreCacheTTL time.Duration
}

// Client はカタログサービスのクライアント。
// 自動リトライは行わず、失敗は全てFetchFailedエラーとして呼び出し元に返す。
type Client struct {
	httpClient   *http.Client
	imageClient  *http.Client
	logger       *slog.Logger
	metrics      metrics.MetricsCollector
	sanitizer    security.TextSanitizer
	validateURL  func(string) error
	limiter      *rate.Limiter
	genres       *expirable.LRU[string, []model.Genre]
	baseURL      string
	imageBaseURL string
	apiKey       string
	language     string
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithMetrics はメトリクスの記録先を指定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithImageClient はポスター画像の取得に使用するHTTPクライアントを指定する。
func WithImageClient(hc *http.Client) Option {
	return func(c *Client) { c.imageClient = hc }
}

// WithURLValidator はポスター画像URLの事前検証関数を指定する。
func WithURLValidator(validate func(string) error) Option {
	return func(c *Client) { c.validateURL = validate }
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ImageBaseURL == "" {
		cfg.ImageBaseURL = DefaultImageBaseURL
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.GenreCacheTTL <= 0 {
		cfg.GenreCacheTTL = 24 * time.Hour
	}

	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = max(1, int(cfg.RateLimit))
	}

	c := &Client{
		httpClient:   httpClient,
		imageClient:  httpClient,
		logger:       logger,
		metrics:      metrics.Nop{},
		sanitizer:    security.NewTextSanitizer(),
		limiter:      rate.NewLimiter(limit, burst),
		genres:       expirable.NewLRU[string, []model.Genre](genreCacheSize, nil, cfg.GenreCacheTTL),
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		imageBaseURL: strings.TrimRight(cfg.ImageBaseURL, "/"),
		apiKey:       cfg.APIKey,
		language:     cfg.Language,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// moviePageResponse はTMDBの一覧系エンドポイントのレスポンス。
type moviePageResponse struct {
	Page         int           `json:"page"`
	Results      []model.Movie `json:"results"`
	TotalPages   int           `json:"total_pages"`
	TotalResults int           `json:"total_results"`
}

// genreListResponse はTMDBのジャンル一覧エンドポイントのレスポンス。
type genreListResponse struct {
	Genres []model.Genre `json:"genres"`
}

// Popular は人気作品の指定ページを取得する。
func (c *Client) Popular(ctx context.Context, page int) (*model.MoviePage, error) {
	return c.moviePage(ctx, "popular", "/movie/popular", url.Values{"page": {pageParam(page)}})
}

// Trending は今週のトレンド作品の指定ページを取得する。
func (c *Client) Trending(ctx context.Context, page int) (*model.MoviePage, error) {
	return c.moviePage(ctx, "trending", "/trending/movie/week", url.Values{"page": {pageParam(page)}})
}

// Search は検索語とジャンルで作品を検索する。genreIDが0以下の場合はジャンルで絞り込まない。
// 空白のみの検索語ではリクエストを送信せず、結果0件のページを返す。
func (c *Client) Search(ctx context.Context, query string, page, genreID int) (*model.MoviePage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &model.MoviePage{Page: max(page, 1), Results: []model.Movie{}}, nil
	}

	params := url.Values{
		"query": {query},
		"page":  {pageParam(page)},
	}
	if genreID > 0 {
		params.Set("with_genres", strconv.Itoa(genreID))
	}
	return c.moviePage(ctx, "search", "/search/movie", params)
}

// Genres はジャンル一覧を取得する。結果は言語ごとにキャッシュする。
func (c *Client) Genres(ctx context.Context) ([]model.Genre, error) {
	if cached, ok := c.genres.Get(c.language); ok {
		return cached, nil
	}

	var resp genreListResponse
	if err := c.getJSON(ctx, "genres", "/genre/movie/list", nil, &resp); err != nil {
		return nil, err
	}

	genres := make([]model.Genre, 0, len(resp.Genres))
	for _, g := range resp.Genres {
		g.Name = c.sanitizer.Plain(g.Name)
		genres = append(genres, g)
	}
	c.genres.Add(c.language, genres)
	return genres, nil
}

func (c *Client) moviePage(ctx context.Context, endpoint, path string, params url.Values) (*model.MoviePage, error) {
	var resp moviePageResponse
	if err := c.getJSON(ctx, endpoint, path, params, &resp); err != nil {
		return nil, err
	}

	results := make([]model.Movie, 0, len(resp.Results))
	for _, m := range resp.Results {
		m.Title = c.sanitizer.Plain(m.Title)
		m.Overview = c.sanitizer.Plain(m.Overview)
		results = append(results, m)
	}

	return &model.MoviePage{
		Page:       resp.Page,
		Results:    results,
		TotalPages: resp.TotalPages,
	}, nil
}

// getJSON はAPIを呼び出し、レスポンスをvにデコードする。
func (c *Client) getJSON(ctx context.Context, endpoint, path string, params url.Values, v any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordCatalogRequest(endpoint, err == nil)
		c.metrics.RecordCatalogLatency(endpoint, time.Since(start))
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return model.NewFetchFailedError("リクエストが中断されました")
	}

	reqURL, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.logger.Error("カタログAPIのURL構築に失敗しました", slog.String("error", err.Error()))
		return model.NewFetchFailedError("URLが不正です")
	}
	q := reqURL.Query()
	for k, vs := range params {
		for _, val := range vs {
			q.Add(k, val)
		}
	}
	q.Set("api_key", c.apiKey)
	q.Set("language", c.language)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return model.NewFetchFailedError("リクエストの作成に失敗しました")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("カタログAPIの呼び出しに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", c.redact(err.Error())),
		)
		return model.NewFetchFailedError("通信エラー")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("カタログAPIがエラーステータスを返しました",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
		)
		return model.NewFetchFailedError(fmt.Sprintf("ステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", c.redact(err.Error())),
		)
		return model.NewFetchFailedError("応答の読み取りに失敗しました")
	}

	if err := json.Unmarshal(body, v); err != nil {
		c.logger.Error("カタログAPIのレスポンスのパースに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return model.NewFetchFailedError("応答の解析に失敗しました")
	}

	return nil
}

// redact はエラーメッセージに含まれるAPIキーを伏せる。
func (c *Client) redact(s string) string {
	if c.apiKey == "" {
		return s
	}
	return strings.ReplaceAll(s, c.apiKey, "***")
}

func pageParam(page int) string {
	return strconv.Itoa(max(page, 1))
}
