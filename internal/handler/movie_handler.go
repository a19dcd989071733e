package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/jomovie/internal/catalog"
	"github.com/hitoshi/jomovie/internal/history"
	"github.com/hitoshi/jomovie/internal/listing"
	"github.com/hitoshi/jomovie/internal/metrics"
	"github.com/hitoshi/jomovie/internal/middleware"
	"github.com/hitoshi/jomovie/internal/model"
	"github.com/hitoshi/jomovie/internal/storage"
)

// 一覧名
const (
	ListPopular  = "popular"
	ListTrending = "trending"
	ListSearch   = "search"
)

// searchParamsKey は一時Tierに保存する検索条件のキー。
const searchParamsKey = "searchParams"

// CatalogService は映画ハンドラーが必要とするカタログサービスのインターフェース。
type CatalogService interface {
	Popular(ctx context.Context, page int) (*model.MoviePage, error)
	Trending(ctx context.Context, page int) (*model.MoviePage, error)
	// Search は空白のみのクエリに対してリクエストを送らず空の結果を返す。
	Search(ctx context.Context, query string, page, genreID int) (*model.MoviePage, error)
	Genres(ctx context.Context) ([]model.Genre, error)
	Poster(ctx context.Context, size, file string) (*catalog.Poster, error)
}

// MovieHandler は映画一覧・検索・ジャンル・ポスター画像のHTTPハンドラー。
// 一覧の状態はタブごとにRegistryに保持する。
type MovieHandler struct {
	catalog CatalogService
	lists   *listing.Registry
	metrics metrics.MetricsCollector
}

// NewMovieHandler はMovieHandlerを生成する。mcがnilの場合はメトリクスを記録しない。
func NewMovieHandler(catalog CatalogService, lists *listing.Registry, mc metrics.MetricsCollector) *MovieHandler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &MovieHandler{
		catalog: catalog,
		lists:   lists,
		metrics: mc,
	}
}

// listResponse は一覧のレスポンス。
type listResponse struct {
	listing.Snapshot
	// Ignored は取得中または最終ページのため次ページ要求を無視したことを示す。
	Ignored       bool     `json:"ignored,omitempty"`
	SearchHistory []string `json:"search_history,omitempty"`
}

type genresResponse struct {
	Genres []model.Genre `json:"genres"`
}

// searchParams は検索一覧の条件。
type searchParams struct {
	Query string `json:"query"`
	Genre int    `json:"genre,omitempty"`
}

// ListMovies は人気・トレンド一覧の指定ページを取得する。
// GET /api/movies/{list}?page=N
func (h *MovieHandler) ListMovies(w http.ResponseWriter, r *http.Request) {
	c, ok := clientFrom(w, r)
	if !ok {
		return
	}

	name := chi.URLParam(r, "list")
	if name != ListPopular && name != ListTrending {
		handleServiceError(w, model.NewUnknownListError(name))
		return
	}

	page, err := queryInt(r, "page", 1)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	l, err := h.list(r.Context(), c, name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	snap, err := l.FetchPage(r.Context(), page)
	h.metrics.RecordListFetch(name, string(snap.Status))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Snapshot: snap})
}

// Search は検索一覧の指定ページを取得する。
// 検索条件が前回と異なる場合は一覧をリセットしてから取得する。
// 1ページ目の取得に成功した場合は検索履歴に記録する。
// GET /api/movies/search?q=xxx&page=N&genre=ID
func (h *MovieHandler) Search(w http.ResponseWriter, r *http.Request) {
	c, ok := clientFrom(w, r)
	if !ok {
		return
	}

	page, err := queryInt(r, "page", 1)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	genre := 0
	if raw := r.URL.Query().Get("genre"); raw != "" {
		if genre, err = strconv.Atoi(raw); err != nil || genre < 0 {
			handleServiceError(w, model.NewInvalidRequestError(
				"パラメータ genre が不正です: "+raw,
				"ジャンルIDを指定してください。",
			))
			return
		}
	}
	params := searchParams{Query: strings.TrimSpace(r.URL.Query().Get("q")), Genre: genre}

	l, err := h.searchList(r.Context(), c, &params)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	snap, err := l.FetchPage(r.Context(), page)
	h.metrics.RecordListFetch(ListSearch, string(snap.Status))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := listResponse{Snapshot: snap}
	if identity := c.Auth.Identity(); identity != nil {
		entries, err := history.New(c.Durable).Record(r.Context(), identity, params.Query, page)
		if err != nil {
			slog.Warn("failed to record search history",
				slog.String("email", identity.Email),
				slog.String("error", err.Error()),
			)
		} else {
			resp.SearchHistory = entries
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// NextPage は一覧の次のページを取得する。
// 取得中、または次のページがない場合は状態を変えずにignored=trueを返す。
// POST /api/lists/{list}/next
func (h *MovieHandler) NextPage(w http.ResponseWriter, r *http.Request) {
	c, ok := clientFrom(w, r)
	if !ok {
		return
	}

	name := chi.URLParam(r, "list")
	l, err := h.list(r.Context(), c, name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	snap, started, err := l.NextPage(r.Context())
	if started {
		h.metrics.RecordListFetch(name, string(snap.Status))
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Snapshot: snap, Ignored: !started})
}

// ToggleMode は一覧の表示モードを切り替え、1ページ目から取得し直す。
// POST /api/lists/{list}/mode
func (h *MovieHandler) ToggleMode(w http.ResponseWriter, r *http.Request) {
	c, ok := clientFrom(w, r)
	if !ok {
		return
	}

	name := chi.URLParam(r, "list")
	l, err := h.list(r.Context(), c, name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	snap, err := l.ToggleMode(r.Context())
	h.metrics.RecordListFetch(name, string(snap.Status))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Snapshot: snap})
}

// Genres はジャンル一覧を返す。
// GET /api/genres
func (h *MovieHandler) Genres(w http.ResponseWriter, r *http.Request) {
	genres, err := h.catalog.Genres(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, genresResponse{Genres: genres})
}

// Poster はポスター画像を中継する。
// GET /api/posters/{size}/{file}
func (h *MovieHandler) Poster(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.Poster(r.Context(), chi.URLParam(r, "size"), chi.URLParam(r, "file"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer p.Body.Close()

	w.Header().Set("Content-Type", p.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if p.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(p.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, p.Body); err != nil {
		slog.Warn("failed to relay poster", slog.String("error", err.Error()))
	}
}

// list は一覧名に対応するタブの一覧を返す。
func (h *MovieHandler) list(ctx context.Context, c *middleware.Client, name string) (*listing.List, error) {
	var fetch listing.Fetcher
	switch name {
	case ListPopular:
		fetch = h.catalog.Popular
	case ListTrending:
		fetch = h.catalog.Trending
	case ListSearch:
		return h.searchList(ctx, c, nil)
	default:
		return nil, model.NewUnknownListError(name)
	}

	l, _ := h.lists.GetOrCreate(listKey(c, name), func() *listing.List {
		return listing.New(fetch, listing.ModeInfinite)
	})
	return l, nil
}

// searchList はタブの検索一覧を返す。
// paramsがnilの場合は前回の検索条件を使用する。条件が変わった場合は一覧をリセットする。
func (h *MovieHandler) searchList(ctx context.Context, c *middleware.Client, params *searchParams) (*listing.List, error) {
	var stored searchParams
	hasStored, err := storage.GetJSON(ctx, c.Ephemeral, searchParamsKey, &stored)
	if err != nil {
		slog.Warn("ignoring stored search params", slog.String("error", err.Error()))
		hasStored = false
	}
	if params == nil {
		params = &stored
	}

	current := *params
	l, created := h.lists.GetOrCreate(listKey(c, ListSearch), func() *listing.List {
		return listing.New(h.searchFetcher(current), listing.ModeInfinite)
	})

	changed := !hasStored || stored != current
	if changed {
		if !created {
			l.Reset(h.searchFetcher(current))
		}
		if err := storage.SetJSON(ctx, c.Ephemeral, searchParamsKey, current); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (h *MovieHandler) searchFetcher(p searchParams) listing.Fetcher {
	return func(ctx context.Context, page int) (*model.MoviePage, error) {
		return h.catalog.Search(ctx, p.Query, page, p.Genre)
	}
}

func listKey(c *middleware.Client, name string) string {
	return c.TabID + "/" + name
}
