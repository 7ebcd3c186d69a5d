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
// ミドルウェアや認証ゲートウェイから利用する。
type MetricsCollector interface {
	RecordGuardDecision(routeClass, action string)
	RecordAuthOutcome(operation, outcome string)
	RecordRemoteLatency(operation string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	guardDecisions *prometheus.CounterVec
	authOutcomes   *prometheus.CounterVec
	remoteLatency  *prometheus.HistogramVec
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskdeck_guard_decisions_total",
			Help: "EdgeGuardの判定結果（ルート分類・アクション別）",
		}, []string{"route_class", "action"}),
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskdeck_auth_outcomes_total",
			Help: "認証操作の結果（操作・結果コード別）",
		}, []string{"operation", "outcome"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskdeck_remote_latency_seconds",
			Help:    "リモート認証サービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskdeck_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.guardDecisions,
		c.authOutcomes,
		c.remoteLatency,
		c.httpStatus,
	)

	return c
}

// RecordGuardDecision はEdgeGuardの判定を記録する。
// actionは "allow"、"redirect_login"、"redirect_dashboard" のいずれか。
func (c *Collector) RecordGuardDecision(routeClass, action string) {
	c.guardDecisions.WithLabelValues(routeClass, action).Inc()
}

// RecordAuthOutcome は認証操作の結果を記録する。
// outcomeは成功時 "success"、失敗時はエラーコード。
func (c *Collector) RecordAuthOutcome(operation, outcome string) {
	c.authOutcomes.WithLabelValues(operation, outcome).Inc()
}

// RecordRemoteLatency はリモート呼び出しのレイテンシを記録する。
func (c *Collector) RecordRemoteLatency(operation string, duration time.Duration) {
	c.remoteLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しない実装。メトリクスを使わない構成とテストで使う。
type NopCollector struct{}

func (NopCollector) RecordGuardDecision(string, string)        {}
func (NopCollector) RecordAuthOutcome(string, string)          {}
func (NopCollector) RecordRemoteLatency(string, time.Duration) {}
func (NopCollector) RecordHTTPStatus(int)                      {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は運用ポート向けのHTTPハンドラーを返す。
// /metrics でPrometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
