package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(rateLimitedTotal, httpRequests, cacheRequestsTotal) }

var rateLimitedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limited_total",
		Help: "Requests rejected by the fixed-window limiter, per operation.",
	},
	[]string{"op"},
)

var httpRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by path and status class.",
	},
	[]string{"path", "class"},
)

var cacheRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cache_requests_total",
		Help: "Tracks cache hits and misses for the stats cache.",
	},
	[]string{"cache", "result"},
)

func IncRateLimited(op string) { rateLimitedTotal.WithLabelValues(norm(op)).Inc() }

func IncHTTPRequest(path, class string) { httpRequests.WithLabelValues(path, class).Inc() }

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}
