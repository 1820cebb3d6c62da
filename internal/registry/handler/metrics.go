package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/StarRegistry/internal/starledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	starRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "star_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	starRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "star_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	starLedgerBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "star_ledger_blocks_total",
		Help: "Total blocks appended to the star chain since start.",
	})

	starLedgerHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "star_ledger_height",
		Help: "Height of the star chain tip.",
	})

	starClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "star_claims_total",
		Help: "Total star claims by outcome.",
	}, []string{"result"})

	starWebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "star_webhook_deliveries_total",
		Help: "Webhook delivery attempts by result.",
	}, []string{"result"})

	starValidationErrors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "star_validation_errors",
		Help: "Findings reported by the most recent chain validation.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		starRequestsTotal.WithLabelValues(method, path, status).Inc()
		starRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLedgerAppend records an appended block. It matches the signature of
// starledger.WithAppendHook.
func RecordLedgerAppend(b *starledger.Block) {
	starLedgerBlocksTotal.Inc()
	starLedgerHeight.Set(float64(b.Height))
}

// RecordClaim records the outcome of a star claim.
func RecordClaim(result string) {
	starClaimsTotal.WithLabelValues(result).Inc()
}

// SetLedgerHeight sets the chain height gauge.
func SetLedgerHeight(height int) {
	starLedgerHeight.Set(float64(height))
}

// SetValidationErrors records the number of findings of the last validation.
func SetValidationErrors(n int) {
	starValidationErrors.Set(float64(n))
}

// RecordWebhookDelivery records one webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	starWebhookDeliveries.WithLabelValues(result).Inc()
}
