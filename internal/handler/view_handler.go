package handler

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/hitoshi/jomovie/internal/auth"
	"github.com/hitoshi/jomovie/internal/model"
)

// ViewHandler はSPAの画面と静的ファイルを配信する。
// staticDirが空の場合は画面名だけをJSONで返す。
type ViewHandler struct {
	staticDir string
}

// NewViewHandler はViewHandlerを生成する。
func NewViewHandler(staticDir string) *ViewHandler {
	return &ViewHandler{staticDir: staticDir}
}

// Page は画面を配信するハンドラーを返す。どの画面もSPAのindex.htmlを返す。
func (h *ViewHandler) Page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.staticDir == "" {
			writeJSON(w, http.StatusOK, map[string]string{"view": name})
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, filepath.Join(h.staticDir, "index.html"))
	}
}

// Assets は静的ファイルを配信するハンドラーを返す。staticDirが空の場合はnil。
func (h *ViewHandler) Assets() http.Handler {
	if h.staticDir == "" {
		return nil
	}
	return http.StripPrefix("/assets/", http.FileServer(http.Dir(filepath.Join(h.staticDir, "assets"))))
}

// NotFound は存在しないパスへのリクエストを処理する。
// API以外はホーム画面へリダイレクトする。
func (h *ViewHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/auth/") {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewInvalidRequestError(
			"エンドポイントが存在しません: "+r.URL.Path,
			"URLを確認してください。",
		))
		return
	}
	http.Redirect(w, r, auth.HomePath, http.StatusFound)
}
