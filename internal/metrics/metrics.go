package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_sessions",
		Help: "Current number of registered websocket sessions",
	})
	WsEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_events_total",
		Help: "Total number of inbound websocket events by name",
	}, []string{"event"})
	WsBroadcastsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_broadcasts_total",
		Help: "Total number of room broadcasts",
	})
	WsRateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_rate_limited_total",
		Help: "Total number of events rejected by the session rate limiter",
	})
	WsErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_errors_total",
		Help: "Total number of error events sent to sessions by code",
	}, []string{"code"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsSessions, WsEventsTotal, WsBroadcastsTotal, WsRateLimitedTotal, WsErrorsTotal, HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
