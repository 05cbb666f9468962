// Package metrics 提供 Prometheus 指标：HTTP 请求与文档分析结果。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 分析结果标签。
const (
	OutcomeCompleted   = "completed"
	OutcomeFailed      = "failed"
	OutcomeUnavailable = "unavailable"
)

// 分析方式标签。
const (
	ModeSync   = "sync"
	ModeAsync  = "async"
	ModeStream = "stream"
)

// Metrics 持有独立的 registry，测试中可以创建多个实例。
type Metrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	analysisTotal    *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
}

// New 创建并注册全部指标。
func New(service string) *Metrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "osapio",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "osapio",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "osapio",
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	analysisTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "osapio",
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "Total document analyses by mode and outcome.",
		},
		[]string{"service", "mode", "outcome"},
	)
	analysisDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "osapio",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Language model call duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"service", "mode"},
	)

	registry.MustRegister(requestTotal, requestDuration, requestInFlight, analysisTotal, analysisDuration)

	return &Metrics{
		registry:         registry,
		service:          service,
		requestTotal:     requestTotal,
		requestDuration:  requestDuration,
		requestInFlight:  requestInFlight,
		analysisTotal:    analysisTotal,
		analysisDuration: analysisDuration,
	}
}

// Handler 返回 /metrics 的处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 暴露底层 registry，供测试读取。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware 记录每个请求的次数、耗时与并发数。路径使用路由模板，避免记录 ID。
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		m.requestTotal.WithLabelValues(m.service, method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(m.service, method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordAnalysis 记录一次分析的结果与耗时。
func (m *Metrics) RecordAnalysis(mode, outcome string, duration time.Duration) {
	if mode == "" {
		mode = "unknown"
	}
	m.analysisTotal.WithLabelValues(m.service, mode, outcome).Inc()
	if duration > 0 {
		m.analysisDuration.WithLabelValues(m.service, mode).Observe(duration.Seconds())
	}
}
