package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// 引擎指标
	ItemsServedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_items_served_total",
			Help: "Total number of items served to learners",
		},
	)

	CooldownOverrideCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_cooldown_overrides_total",
			Help: "Item selections that fell back to a cooldown-violating item",
		},
	)

	OptimisticConflictCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_optimistic_conflicts_total",
			Help: "Optimistic concurrency conflicts by entity",
		},
		[]string{"entity"},
	)

	SessionsTerminatedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_sessions_terminated_total",
			Help: "Adaptive sessions terminated, by stop condition",
		},
		[]string{"reason"},
	)

	GenerationFallbackCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_generation_fallbacks_total",
			Help: "Item content generation calls that timed out and fell back to reuse",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ItemsServedCounter)
	prometheus.MustRegister(CooldownOverrideCounter)
	prometheus.MustRegister(OptimisticConflictCounter)
	prometheus.MustRegister(SessionsTerminatedCounter)
	prometheus.MustRegister(GenerationFallbackCounter)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
