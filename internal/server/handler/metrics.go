package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paperledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paperledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ledgerAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paperledger_ledger_appends_total",
		Help: "Total ledger entries appended.",
	})

	ledgerVerifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paperledger_ledger_verifications_total",
		Help: "Total chain verifications by result (valid, hash_mismatch, chain_break, signature_mismatch).",
	}, []string{"result"})

	paperUploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paperledger_paper_uploads_total",
		Help: "Total exam papers archived.",
	})

	auditSweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paperledger_audit_sweeps_total",
		Help: "Total background chain audits by result (valid, broken).",
	}, []string{"result"})
)

// RecordAuditSweep counts one background chain audit.
func RecordAuditSweep(valid bool) {
	result := "valid"
	if !valid {
		result = "broken"
	}
	auditSweepsTotal.WithLabelValues(result).Inc()
}

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
			path = c.Request.URL.Path
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
