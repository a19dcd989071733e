package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// newGateRequest はクライアント識別ミドルウェアを通したリクエストのハンドラーを組み立てる。
func newGateRequest(t *testing.T, loggedIn bool, path string) (ClientConfig, *http.Request) {
	t.Helper()
	cfg, durable, _ := newTestClientConfig()
	if loggedIn {
		storeLoggedIn(t, durable.Scope("profile:"+testProfileID), "a@x.com")
	}
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.AddCookie(&http.Cookie{Name: ProfileCookieName, Value: testProfileID})
	req.AddCookie(&http.Cookie{Name: TabCookieName, Value: testTabID})
	return cfg, req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuthenticated(t *testing.T) {
	tests := []struct {
		name     string
		loggedIn bool
		want     int
	}{
		{"未認証は401", false, http.StatusUnauthorized},
		{"認証済みは通過", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, req := newGateRequest(t, tt.loggedIn, "/api/wishlist")
			handler := NewClientMiddleware(cfg)(RequireAuthenticated(okHandler()))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRequireAuthenticated_WithoutClient_Returns401(t *testing.T) {
	w := httptest.NewRecorder()
	RequireAuthenticated(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/wishlist", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestViewGates(t *testing.T) {
	tests := []struct {
		name         string
		gate         func(http.Handler) http.Handler
		loggedIn     bool
		wantStatus   int
		wantLocation string
	}{
		{"保護画面・未認証はサインインへ", ProtectedView, false, http.StatusFound, "/signin"},
		{"保護画面・認証済みは表示", ProtectedView, true, http.StatusOK, ""},
		{"公開画面・認証済みはホームへ", RedirectIfAuthenticated, true, http.StatusFound, "/"},
		{"公開画面・未認証は表示", RedirectIfAuthenticated, false, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, req := newGateRequest(t, tt.loggedIn, "/wishlist")
			handler := NewClientMiddleware(cfg)(tt.gate(okHandler()))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Location"); got != tt.wantLocation {
				t.Errorf("Location = %q, want %q", got, tt.wantLocation)
			}
		})
	}
}
