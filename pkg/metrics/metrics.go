package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 每个阶段成功处理的条目数
	StageSuccessCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailsflow_stage_success_total",
			Help: "Items successfully processed per pipeline stage",
		},
		[]string{"stage"}, // email-store, email-analyze, post-store
	)

	// 每个阶段失败的条目数
	StageErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailsflow_stage_error_total",
			Help: "Items that failed per pipeline stage",
		},
		[]string{"stage", "error_type"},
	)

	// MQ 批次处理延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "Batch handling latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 15), // 10ms to ~160s
		},
		[]string{"queue"},
	)

	// 批次大小
	MQBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_batch_size",
			Help:    "Number of deliveries per handled batch",
			Buckets: []float64{1, 2, 3, 5, 8, 10},
		},
		[]string{"queue"},
	)

	// 消息最终结算结果：ack / requeue / dead_letter
	MQSettleCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_settle_total",
			Help: "Delivery settlements by outcome",
		},
		[]string{"queue", "outcome"},
	)

	// 生产者发送结果
	ProducerSendCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailsflow_producer_send_total",
			Help: "Messages emitted by producers",
		},
		[]string{"producer", "status"}, // status: sent, failed
	)

	// LLM 调用延迟（毫秒）
	LLMCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_latency_ms",
			Help:    "LLM provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 12), // 100ms to ~200s
		},
		[]string{"provider", "status"},
	)

	// LLM token 用量
	LLMTokenCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Tokens consumed by LLM calls",
		},
		[]string{"provider", "kind"}, // kind: input, output
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"operation"}, // SELECT, INSERT, UPDATE ...
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)
)

// IncrementStageSuccess 记录阶段成功
func IncrementStageSuccess(stage string) {
	StageSuccessCount.WithLabelValues(stage).Inc()
}

// IncrementStageError 记录阶段失败
func IncrementStageError(stage, errorType string) {
	StageErrorCount.WithLabelValues(stage, errorType).Inc()
}

// RecordMQConsumeLatency 记录批次处理延迟
func RecordMQConsumeLatency(queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(queue).Observe(float64(duration.Milliseconds()))
}

// RecordMQBatchSize 记录批次大小
func RecordMQBatchSize(queue string, size int) {
	MQBatchSize.WithLabelValues(queue).Observe(float64(size))
}

// IncrementMQSettle 记录消息结算结果
func IncrementMQSettle(queue, outcome string) {
	MQSettleCount.WithLabelValues(queue, outcome).Inc()
}

// IncrementProducerSend 记录生产者发送结果
func IncrementProducerSend(producer, status string) {
	ProducerSendCount.WithLabelValues(producer, status).Inc()
}

// RecordLLMCallLatency 记录 LLM 调用延迟
func RecordLLMCallLatency(provider, status string, duration time.Duration) {
	LLMCallLatency.WithLabelValues(provider, status).Observe(float64(duration.Milliseconds()))
}

// AddLLMTokens 累加 token 用量
func AddLLMTokens(provider string, input, output int) {
	LLMTokenCount.WithLabelValues(provider, "input").Add(float64(input))
	LLMTokenCount.WithLabelValues(provider, "output").Add(float64(output))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(operation string) {
	SlowQueryCount.WithLabelValues(operation).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
