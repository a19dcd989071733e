package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/jomovie/internal/history"
	"github.com/hitoshi/jomovie/internal/listing"
	"github.com/hitoshi/jomovie/internal/model"
	"github.com/hitoshi/jomovie/internal/security"
	"github.com/hitoshi/jomovie/internal/wishlist"
)

// WishlistHandler はウィッシュリストと検索履歴のHTTPハンドラー。
type WishlistHandler struct {
	sanitizer security.TextSanitizer
}

// NewWishlistHandler はWishlistHandlerを生成する。
func NewWishlistHandler(sanitizer security.TextSanitizer) *WishlistHandler {
	return &WishlistHandler{sanitizer: sanitizer}
}

type containsResponse struct {
	ID         int  `json:"id"`
	InWishlist bool `json:"in_wishlist"`
}

type searchHistoryResponse struct {
	Entries []string `json:"entries"`
}

// open はリクエスト元のユーザーのウィッシュリストを読み込む。
func (h *WishlistHandler) open(w http.ResponseWriter, r *http.Request) (*wishlist.Store, bool) {
	c, ok := clientFrom(w, r)
	if !ok {
		return nil, false
	}
	store, err := wishlist.Open(r.Context(), c.Durable, c.Auth.Identity())
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}
	return store, true
}

// List はウィッシュリストを表示モードに応じて切り出して返す。
// GET /api/wishlist?page=N&mode=infinite|paged
func (h *WishlistHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	mode := listing.ModeInfinite
	if raw := r.URL.Query().Get("mode"); raw != "" {
		if mode, err = listing.ParseMode(raw); err != nil {
			handleServiceError(w, model.NewInvalidRequestError(
				"パラメータ mode が不正です: "+raw,
				"infinite または paged を指定してください。",
			))
			return
		}
	}

	store, ok := h.open(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, store.Page(page, mode))
}

// Add は映画をウィッシュリストに追加する。同じIDの映画が既にある場合は何もしない。
// POST /api/wishlist
func (h *WishlistHandler) Add(w http.ResponseWriter, r *http.Request) {
	movie, ok := h.decodeMovie(w, r)
	if !ok {
		return
	}
	store, ok := h.open(w, r)
	if !ok {
		return
	}
	if err := store.Add(r.Context(), movie); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, containsResponse{ID: movie.ID, InWishlist: true})
}

// Toggle は映画がウィッシュリストにあれば削除し、なければ追加する。
// POST /api/wishlist/toggle
func (h *WishlistHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	movie, ok := h.decodeMovie(w, r)
	if !ok {
		return
	}
	store, ok := h.open(w, r)
	if !ok {
		return
	}
	added, err := store.Toggle(r.Context(), movie)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, containsResponse{ID: movie.ID, InWishlist: added})
}

// Contains は映画がウィッシュリストにあるかどうかを返す。
// GET /api/wishlist/{id}
func (h *WishlistHandler) Contains(w http.ResponseWriter, r *http.Request) {
	id, ok := movieIDParam(w, r)
	if !ok {
		return
	}
	store, ok := h.open(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, containsResponse{ID: id, InWishlist: store.Contains(id)})
}

// Remove は映画をウィッシュリストから削除する。存在しない場合も成功とする。
// DELETE /api/wishlist/{id}
func (h *WishlistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, ok := movieIDParam(w, r)
	if !ok {
		return
	}
	store, ok := h.open(w, r)
	if !ok {
		return
	}
	if err := store.Remove(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SearchHistory は最近の検索語を新しい順に返す。
// GET /api/search-history
func (h *WishlistHandler) SearchHistory(w http.ResponseWriter, r *http.Request) {
	c, ok := clientFrom(w, r)
	if !ok {
		return
	}
	entries, err := history.New(c.Durable).List(r.Context(), c.Auth.Identity())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchHistoryResponse{Entries: entries})
}

// decodeMovie はリクエストボディの映画を読み取り、テキスト項目をプレーンテキストにする。
func (h *WishlistHandler) decodeMovie(w http.ResponseWriter, r *http.Request) (model.Movie, bool) {
	var movie model.Movie
	if !decodeJSON(w, r, &movie) {
		return movie, false
	}
	if movie.ID <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(
			"映画IDが不正です。",
			"正しい映画IDを指定してください。",
		))
		return movie, false
	}
	movie.Title = h.sanitizer.Plain(movie.Title)
	movie.Overview = h.sanitizer.Plain(movie.Overview)
	return movie, true
}

func movieIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(
			"映画IDが不正です: "+raw,
			"正しい映画IDを指定してください。",
		))
		return 0, false
	}
	return id, true
}
