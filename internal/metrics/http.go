package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(httpRequestsTotal, httpRequestDuration, cacheLookupsTotal, rateLimitRejections) }

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge3d_http_requests_total",
			Help: "HTTP requests served, by method and status code.",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forge3d_http_request_duration_ms",
			Help:    "HTTP request duration in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"method"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge3d_cache_lookups_total",
			Help: "Terminal status cache lookups, by result.",
		},
		[]string{"result"}, // 'hit', 'miss', 'error'
	)

	rateLimitRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forge3d_rate_limit_rejections_total",
			Help: "Requests rejected by a rate limiter.",
		},
	)
)

func ObserveHTTP(method string, status int, durationMs int64) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method).Observe(float64(durationMs))
}

func IncCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(norm(result)).Inc()
}

func IncRateLimitRejection() { rateLimitRejections.Inc() }
