package middleware

import (
	"net/http"

	"github.com/hitoshi/jomovie/internal/auth"
	"github.com/hitoshi/jomovie/internal/model"
)

// RequireAuthenticated は未認証のAPIリクエストに401を返すミドルウェア。
// NewClientMiddlewareの後段で使用する。
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := ClientFromContext(r.Context())
		if err != nil || !c.Auth.IsAuthenticated() {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ProtectedView は認証が必要な画面のゲート。未認証の場合はサインイン画面へリダイレクトする。
func ProtectedView(next http.Handler) http.Handler {
	return viewGate(next, auth.ProtectedRedirect)
}

// RedirectIfAuthenticated は未認証ユーザー向け画面のゲート。
// 認証済みの場合はホーム画面へリダイレクトする。
func RedirectIfAuthenticated(next http.Handler) http.Handler {
	return viewGate(next, auth.PublicRedirect)
}

func viewGate(next http.Handler, decide func(model.Session) (string, bool)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var state model.Session
		if c, err := ClientFromContext(r.Context()); err == nil {
			state = c.Auth.State()
		}
		if to, redirect := decide(state); redirect {
			http.Redirect(w, r, to, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}
