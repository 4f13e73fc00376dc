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
// ガードレール、NHTSAクライアント、会話オーケストレータから利用する。
type MetricsCollector interface {
	RecordGuardrailOutcome(status string)
	RecordForbiddenPhrase()
	RecordNHTSARequest(endpoint, outcome string)
	RecordNHTSAStatus(endpoint string, statusCode int)
	RecordNHTSALatency(endpoint string, duration time.Duration)
	RecordToolCall(tool, outcome string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	guardrailOutcomes *prometheus.CounterVec
	forbiddenPhrases  prometheus.Counter
	nhtsaRequests     *prometheus.CounterVec
	nhtsaStatus       *prometheus.CounterVec
	nhtsaLatency      *prometheus.HistogramVec
	toolCalls         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		guardrailOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitstop_guardrail_outcomes_total",
			Help: "ガードレール判定結果別の入力数",
		}, []string{"status"}),
		forbiddenPhrases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pitstop_guardrail_forbidden_phrases_total",
			Help: "応答文で検出された禁止フレーズの合計数",
		}),
		nhtsaRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitstop_nhtsa_requests_total",
			Help: "NHTSA APIリクエストの結果別の合計数",
		}, []string{"endpoint", "outcome"}),
		nhtsaStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitstop_nhtsa_http_status_total",
			Help: "NHTSA APIのHTTPステータスコード別のレスポンス数",
		}, []string{"endpoint", "status_code"}),
		nhtsaLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pitstop_nhtsa_latency_seconds",
			Help:    "NHTSA APIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitstop_tool_calls_total",
			Help: "ツール呼び出しの結果別の合計数",
		}, []string{"tool", "outcome"}),
	}

	reg.MustRegister(
		c.guardrailOutcomes,
		c.forbiddenPhrases,
		c.nhtsaRequests,
		c.nhtsaStatus,
		c.nhtsaLatency,
		c.toolCalls,
	)

	return c
}

// RecordGuardrailOutcome はガードレールの判定結果を記録する。
func (c *Collector) RecordGuardrailOutcome(status string) {
	c.guardrailOutcomes.WithLabelValues(status).Inc()
}

// RecordForbiddenPhrase は応答文の禁止フレーズ検出を記録する。
func (c *Collector) RecordForbiddenPhrase() {
	c.forbiddenPhrases.Inc()
}

// RecordNHTSARequest はNHTSA APIリクエストの結果を記録する。
// outcomeは ok, retry, no_result, give_up, transport_error のいずれか。
func (c *Collector) RecordNHTSARequest(endpoint, outcome string) {
	c.nhtsaRequests.WithLabelValues(endpoint, outcome).Inc()
}

// RecordNHTSAStatus はNHTSA APIのHTTPステータスコードを記録する。
func (c *Collector) RecordNHTSAStatus(endpoint string, statusCode int) {
	c.nhtsaStatus.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
}

// RecordNHTSALatency はNHTSA APIリクエストのレイテンシを記録する。
func (c *Collector) RecordNHTSALatency(endpoint string, duration time.Duration) {
	c.nhtsaLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordToolCall はツール呼び出しの結果を記録する。
func (c *Collector) RecordToolCall(tool, outcome string) {
	c.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
