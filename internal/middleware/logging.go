package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"

	"github.com/hitoshi/jomovie/internal/metrics"
)

var requestLogContextKey = contextKey("request_log")

// requestLog は後段のミドルウェアがログ項目を追記するための入れ物。
type requestLog struct {
	profileID string
}

// annotateProfileID はリクエストログにプロファイルIDを記録する。
// ロギングミドルウェアを通過していない場合は何もしない。
func annotateProfileID(ctx context.Context, id string) {
	if l, ok := ctx.Value(requestLogContextKey).(*requestLog); ok {
		l.profileID = id
	}
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、profile_id（識別済みの場合）を含む。
// レスポンスのステータスコードはmcに記録する。mcがnilの場合は記録しない。
func NewLoggingMiddleware(logger *slog.Logger, mc metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := &requestLog{}
			r = r.WithContext(context.WithValue(r.Context(), requestLogContextKey, entry))

			m := httpsnoop.CaptureMetrics(next, w, r)
			mc.RecordHTTPStatus(m.Code)

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", m.Code),
				slog.Float64("duration_ms", float64(m.Duration.Microseconds())/1000),
				slog.Int64("bytes", m.Written),
			}
			if entry.profileID != "" {
				args = append(args, slog.String("profile_id", entry.profileID))
			}

			level := slog.LevelInfo
			if m.Code >= 500 {
				level = slog.LevelError
			} else if m.Code >= 400 {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
