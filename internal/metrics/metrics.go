// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// カタログクライアントやハンドラー層から利用する。
type MetricsCollector interface {
	RecordCatalogRequest(endpoint string, success bool)
	RecordCatalogLatency(endpoint string, duration time.Duration)
	RecordLogin(method string, success bool)
	RecordListFetch(list string, status string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	catalogRequests *prometheus.CounterVec
	catalogLatency  *prometheus.HistogramVec
	logins          *prometheus.CounterVec
	listFetches     *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		catalogRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jomovie_catalog_requests_total",
			Help: "カタログサービスへのリクエスト数",
		}, []string{"endpoint", "outcome"}),
		catalogLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jomovie_catalog_latency_seconds",
			Help:    "カタログサービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jomovie_logins_total",
			Help: "ログイン試行数",
		}, []string{"method", "outcome"}),
		listFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jomovie_list_fetches_total",
			Help: "一覧のページ取得数（取得後の状態別）",
		}, []string{"list", "status"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jomovie_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.catalogRequests,
		c.catalogLatency,
		c.logins,
		c.listFetches,
		c.httpStatus,
	)

	return c
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordCatalogRequest はカタログサービスへのリクエスト結果を記録する。
func (c *Collector) RecordCatalogRequest(endpoint string, success bool) {
	c.catalogRequests.WithLabelValues(endpoint, outcome(success)).Inc()
}

// RecordCatalogLatency はカタログサービス呼び出しのレイテンシを記録する。
func (c *Collector) RecordCatalogLatency(endpoint string, duration time.Duration) {
	c.catalogLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(method string, success bool) {
	c.logins.WithLabelValues(method, outcome(success)).Inc()
}

// RecordListFetch は一覧のページ取得後の状態を記録する。
func (c *Collector) RecordListFetch(list string, status string) {
	c.listFetches.WithLabelValues(list, status).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordCatalogRequest(string, bool)          {}
func (Nop) RecordCatalogLatency(string, time.Duration) {}
func (Nop) RecordLogin(string, bool)                   {}
func (Nop) RecordListFetch(string, string)             {}
func (Nop) RecordHTTPStatus(int)                       {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
