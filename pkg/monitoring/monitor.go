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

	// 求解流水线指标
	SolveCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_solves_total",
			Help: "Total number of quiz solve attempts by overall status",
		},
		[]string{"status"},
	)

	SolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quiz_solve_duration_seconds",
			Help:    "End-to-end duration of a solve request",
			Buckets: []float64{5, 15, 30, 60, 120, 180},
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browser_sessions_active",
			Help: "Number of browser sessions currently held",
		},
	)

	LLMRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_completion_requests_total",
			Help: "Total number of LLM completion requests by outcome",
		},
		[]string{"outcome"},
	)

	QuestionOutcomeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_question_outcomes_total",
			Help: "Per-question final outcomes",
		},
		[]string{"status"},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(SolveCounter)
	prometheus.MustRegister(SolveDuration)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(LLMRequestCounter)
	prometheus.MustRegister(QuestionOutcomeCounter)
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
