package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/boqhub/text2sql-go/internal/errors"
)

// MetricsService 管道Prometheus指标收集
type MetricsService struct {
	routedCounter     *prometheus.CounterVec
	failureCounter    *prometheus.CounterVec
	validationCounter prometheus.Counter
	retrievalDuration prometheus.Histogram
	generationCounter prometheus.Counter
}

// NewMetricsService 创建并注册管道指标
func NewMetricsService() *MetricsService {
	return &MetricsService{
		routedCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "text2sql_routed_questions_total",
				Help: "Total questions routed, labelled by intent",
			},
			[]string{"intent"},
		),
		failureCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "text2sql_pipeline_failures_total",
				Help: "Pipeline failures by error code",
			},
			[]string{"code"},
		),
		validationCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "text2sql_validation_failures_total",
				Help: "Generated statements that failed validation",
			},
		),
		retrievalDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "text2sql_retrieval_duration_seconds",
				Help:    "Duration of two-stage schema retrieval",
				Buckets: prometheus.DefBuckets,
			},
		),
		generationCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "text2sql_generated_statements_total",
				Help: "Total SQL statements generated",
			},
		),
	}
}

// ObserveRoute 记录一次路由决策
func (m *MetricsService) ObserveRoute(intent string) {
	if m == nil {
		return
	}
	m.routedCounter.WithLabelValues(intent).Inc()
}

// ObserveRetrievalFailure 记录一次管道失败
func (m *MetricsService) ObserveRetrievalFailure(err error) {
	if m == nil {
		return
	}
	code := string(apperrors.CodeOf(err))
	if code == "" {
		code = "unknown"
	}
	m.failureCounter.WithLabelValues(code).Inc()
}

// ObserveValidationFailure 记录一次校验失败
func (m *MetricsService) ObserveValidationFailure() {
	if m == nil {
		return
	}
	m.validationCounter.Inc()
}

// ObserveRetrievalSeconds 记录一次检索耗时
func (m *MetricsService) ObserveRetrievalSeconds(seconds float64) {
	if m == nil {
		return
	}
	m.retrievalDuration.Observe(seconds)
}

// ObserveGeneration 记录一次SQL生成
func (m *MetricsService) ObserveGeneration() {
	if m == nil {
		return
	}
	m.generationCounter.Inc()
}
