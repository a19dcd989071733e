package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/jomovie/internal/listing"
	"github.com/hitoshi/jomovie/internal/metrics"
	"github.com/hitoshi/jomovie/internal/middleware"
	"github.com/hitoshi/jomovie/internal/security"
)

// HealthChecker は依存サービスの疎通確認に必要なインターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 共通
	Logger          *slog.Logger
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer
	HealthChecker   HealthChecker

	// ミドルウェア依存
	Client            middleware.ClientConfig
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	Providers  ProviderSource
	AuthConfig AuthHandlerConfig

	// 映画
	Catalog   CatalogService
	Lists     *listing.Registry
	Sanitizer security.TextSanitizer

	// 画面
	StaticDir string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Client → RateLimit(General) → CSRF
//
// /health と /metrics はクライアント識別の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.Providers, deps.Metrics, deps.AuthConfig)
	movieHandler := NewMovieHandler(deps.Catalog, deps.Lists, deps.Metrics)
	wishlistHandler := NewWishlistHandler(deps.Sanitizer)
	viewHandler := NewViewHandler(deps.StaticDir)

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}
	if assets := viewHandler.Assets(); assets != nil {
		r.Handle("/assets/*", assets)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewClientMiddleware(deps.Client))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)

		// 認証ルート
		r.Route("/auth", func(r chi.Router) {
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/register", authHandler.Register)
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
			r.Get("/kakao/login", authHandler.KakaoLogin)
			r.Get("/kakao/callback", authHandler.KakaoCallback)
		})

		// 認証が必要なAPI
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.RequireAuthenticated)

			r.Get("/movies/search", movieHandler.Search)
			r.Get("/movies/{list}", movieHandler.ListMovies)
			r.Post("/lists/{list}/next", movieHandler.NextPage)
			r.Post("/lists/{list}/mode", movieHandler.ToggleMode)
			r.Get("/genres", movieHandler.Genres)
			r.Get("/posters/{size}/{file}", movieHandler.Poster)

			r.Route("/wishlist", func(r chi.Router) {
				r.Get("/", wishlistHandler.List)
				r.Post("/", wishlistHandler.Add)
				r.Post("/toggle", wishlistHandler.Toggle)
				r.Get("/{id}", wishlistHandler.Contains)
				r.Delete("/{id}", wishlistHandler.Remove)
			})
			r.Get("/search-history", wishlistHandler.SearchHistory)
		})

		// 画面
		r.With(middleware.RedirectIfAuthenticated).Get("/signin", viewHandler.Page("signin"))
		r.Group(func(r chi.Router) {
			r.Use(middleware.ProtectedView)
			r.Get("/", viewHandler.Page("home"))
			r.Get("/popular", viewHandler.Page("popular"))
			r.Get("/search", viewHandler.Page("search"))
			r.Get("/wishlist", viewHandler.Page("wishlist"))
		})
	})

	r.NotFound(viewHandler.NotFound)

	return r
}

// healthHandler は依存サービスの疎通を確認するハンドラーを返す。
func healthHandler(hc HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hc != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := hc.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
