package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Catalog
	TMDBAPIKey          string
	CatalogBaseURL      string
	CatalogImageBaseURL string
	CatalogLanguage     string
	CatalogTimeout      time.Duration
	CatalogRateLimit    float64
	GenreCacheTTL       time.Duration

	// Kakao（未設定の場合は外部ログインを無効化する）
	KakaoClientID     string
	KakaoClientSecret string
	KakaoRedirectURL  string
	KakaoIssuer       string

	// Storage
	RedisURL      string
	EphemeralTTL  time.Duration
	ProfileMaxAge int

	// Lists
	ListCacheSize int
	ListTTL       time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitAuth    int

	// Retention
	ProfileRetentionDays int
	CleanupInterval      time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string
	StaticDir  string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// KakaoEnabled はKakaoログインが設定されているかを返す。
func (c *Config) KakaoEnabled() bool {
	return c.KakaoClientID != ""
}

// LoadDotEnv は.envファイルを読み込み、未設定の環境変数のみを補う。
// ファイルが存在しない場合は何もしない。
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.TMDBAPIKey = os.Getenv("TMDB_API_KEY")
	if cfg.TMDBAPIKey == "" {
		missing = append(missing, "TMDB_API_KEY")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.CatalogBaseURL = getEnvString("CATALOG_BASE_URL", "https://api.themoviedb.org/3")
	cfg.CatalogImageBaseURL = getEnvString("CATALOG_IMAGE_BASE_URL", "https://image.tmdb.org/t/p")
	cfg.CatalogLanguage = getEnvString("CATALOG_LANGUAGE", "ko-KR")
	cfg.CatalogTimeout = getEnvDuration("CATALOG_TIMEOUT", 10*time.Second)
	cfg.CatalogRateLimit = getEnvFloat("CATALOG_RATE_LIMIT", 20)
	cfg.GenreCacheTTL = getEnvDuration("GENRE_CACHE_TTL", 24*time.Hour)

	cfg.KakaoClientID = getEnvString("KAKAO_CLIENT_ID", "")
	cfg.KakaoClientSecret = getEnvString("KAKAO_CLIENT_SECRET", "")
	cfg.KakaoRedirectURL = getEnvString("KAKAO_REDIRECT_URL", strings.TrimRight(cfg.BaseURL, "/")+"/auth/kakao/callback")
	cfg.KakaoIssuer = getEnvString("KAKAO_ISSUER", "https://kauth.kakao.com")

	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.EphemeralTTL = getEnvDuration("EPHEMERAL_TTL", 24*time.Hour)
	cfg.ProfileMaxAge = getEnvInt("PROFILE_MAX_AGE", 400*24*60*60)

	cfg.ListCacheSize = getEnvInt("LIST_CACHE_SIZE", 1024)
	cfg.ListTTL = getEnvDuration("LIST_TTL", 30*time.Minute)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)

	cfg.ProfileRetentionDays = getEnvInt("PROFILE_RETENTION_DAYS", 400)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.StaticDir = getEnvString("STATIC_DIR", "")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
