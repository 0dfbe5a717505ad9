// Package metrics provides Prometheus instrumentation for the service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paycore",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paycore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TopupsCreatedTotal counts invoices created for top-up requests.
	TopupsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paycore",
		Name:      "topups_created_total",
		Help:      "Total top-up invoices created.",
	})

	// TopupsRejectedTotal counts top-up requests rejected before invoice creation.
	TopupsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paycore",
		Name:      "topups_rejected_total",
		Help:      "Total top-up requests rejected before invoice creation, by reason.",
	}, []string{"reason"})

	// SubscriptionsPurchasedTotal counts balance-funded subscription purchases.
	SubscriptionsPurchasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paycore",
		Name:      "subscriptions_purchased_total",
		Help:      "Total subscription purchases funded from account balances.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paycore", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paycore", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paycore", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paycore", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TopupsCreatedTotal,
		TopupsRejectedTotal,
		SubscriptionsPurchasedTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector samples connection-pool and goroutine gauges until
// ctx is done. Run it in its own goroutine.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	sample := func() {
		stats := db.Stats()
		DBOpenConnections.Set(float64(stats.OpenConnections))
		DBIdleConnections.Set(float64(stats.Idle))
		DBInUseConnections.Set(float64(stats.InUse))
		GoroutineCount.Set(float64(runtime.NumGoroutine()))
	}
	sample()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}

// Middleware records request counts and latency per route pattern. The route
// pattern, not the raw URL, is the label: raw paths carry user and invoice
// ids and would blow up cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		c.Next()

		HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(method, route, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler exposes the Prometheus text endpoint through gin.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// statusBucket collapses status codes to their class (2xx, 4xx, ...).
func statusBucket(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
