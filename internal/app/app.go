package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/jomovie/internal/auth"
	"github.com/hitoshi/jomovie/internal/catalog"
	"github.com/hitoshi/jomovie/internal/config"
	"github.com/hitoshi/jomovie/internal/database"
	"github.com/hitoshi/jomovie/internal/handler"
	"github.com/hitoshi/jomovie/internal/listing"
	"github.com/hitoshi/jomovie/internal/logger"
	"github.com/hitoshi/jomovie/internal/metrics"
	"github.com/hitoshi/jomovie/internal/middleware"
	"github.com/hitoshi/jomovie/internal/security"
	"github.com/hitoshi/jomovie/internal/storage"
	"github.com/hitoshi/jomovie/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envファイルがあれば未設定の環境変数を補う
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// 設定を必要としないのはhealthcheckのみ
	if !cmd.NeedsConfig() {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("mode", cmd.Description()),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続（永続Tier）
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. 一時Tier
	ephemeral, closeEphemeral, err := openEphemeralTier(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEphemeral()

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービスの初期化
	catalogClient, err := newCatalogClient(cfg, collector)
	if err != nil {
		return err
	}
	authService := auth.NewService(newExternalProvider(cfg))

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:          slog.Default(),
		Metrics:         collector,
		MetricsGatherer: registry,
		HealthChecker:   db,
		Client: middleware.ClientConfig{
			DurableTier:   storage.NewPostgresTier(db),
			EphemeralTier: ephemeral,
			Auth:          authService,
			ProfileMaxAge: cfg.ProfileMaxAge,
			CookieSecure:  cfg.CookieSecure,
			CookieDomain:  cfg.CookieDomain,
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Providers:         authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
		Catalog:   catalogClient,
		Lists:     listing.NewRegistry(cfg.ListCacheSize, cfg.ListTTL),
		Sanitizer: security.NewTextSanitizer(),
		StaticDir: cfg.StaticDir,
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Bool("kakao_enabled", cfg.KakaoEnabled()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// openEphemeralTier は一時Tierを開く。
// REDIS_URLが設定されていればRedis、なければプロセス内メモリを使用する。
// メモリの場合は期限切れエントリを定期的に掃除する。
func openEphemeralTier(ctx context.Context, cfg *config.Config) (storage.Tier, func(), error) {
	if cfg.RedisURL == "" {
		tier := storage.NewMemoryTier(cfg.EphemeralTTL)
		go sweepPeriodically(ctx, tier, time.Minute)
		slog.Info("using in-memory ephemeral tier", slog.Duration("ttl", cfg.EphemeralTTL))
		return tier, func() {}, nil
	}

	client, err := storage.OpenRedis(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established", slog.Duration("ttl", cfg.EphemeralTTL))
	return storage.NewRedisTier(client, cfg.EphemeralTTL), func() { client.Close() }, nil
}

// sweepPeriodically はctxがキャンセルされるまでintervalごとにtierを掃除する。
func sweepPeriodically(ctx context.Context, tier *storage.MemoryTier, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := tier.Sweep(); n > 0 {
				slog.Debug("swept expired ephemeral entries", slog.Int("count", n))
			}
		}
	}
}

// newCatalogClient はカタログサービスのクライアントを生成する。
// ポスター画像はSSRF対策済みのクライアントで画像ホストからのみ取得する。
func newCatalogClient(cfg *config.Config, mc metrics.MetricsCollector) (*catalog.Client, error) {
	imageURL, err := url.Parse(cfg.CatalogImageBaseURL)
	if err != nil || imageURL.Hostname() == "" {
		return nil, fmt.Errorf("invalid CATALOG_IMAGE_BASE_URL: %q", cfg.CatalogImageBaseURL)
	}
	guard := security.NewOutboundGuard(imageURL.Hostname())

	return catalog.NewClient(
		&http.Client{Timeout: cfg.CatalogTimeout},
		slog.Default(),
		catalog.Config{
			BaseURL:       cfg.CatalogBaseURL,
			ImageBaseURL:  cfg.CatalogImageBaseURL,
			APIKey:        cfg.TMDBAPIKey,
			Language:      cfg.CatalogLanguage,
			RateLimit:     cfg.CatalogRateLimit,
			GenreCacheTTL: cfg.GenreCacheTTL,
		},
		catalog.WithMetrics(mc),
		catalog.WithURLValidator(guard.ValidateURL),
		catalog.WithImageClient(guard.NewSafeClient(cfg.CatalogTimeout)),
	), nil
}

// newExternalProvider はKakaoが設定されている場合にプロバイダーを返す。
// 未設定の場合はnilを返し、外部ログインはExternalProviderUnavailableになる。
func newExternalProvider(cfg *config.Config) auth.ExternalProvider {
	if !cfg.KakaoEnabled() {
		return nil
	}
	return auth.NewKakaoProvider(auth.KakaoConfig{
		ClientID:     cfg.KakaoClientID,
		ClientSecret: cfg.KakaoClientSecret,
		RedirectURL:  cfg.KakaoRedirectURL,
		Issuer:       cfg.KakaoIssuer,
	})
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、非アクティブなプロファイルのクリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	cleanupJob.RetentionDays = cfg.ProfileRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", cfg.ProfileRetentionDays),
	)

	cleanupJob.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.Redacted()
}
