package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jobfeed/jobfeed/app/auth"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobfeed_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobfeed_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// NewServer creates the HTTP server with all routes configured. The public
// feed endpoints sit behind bearer-token auth; /internal endpoints are meant
// to stay unexposed, reachable only from inside the cluster.
func NewServer(handler *Handler, security *auth.Security) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	r.Use(gin.Recovery())
	r.Use(metricsMiddleware())

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, If-None-Match, If-Modified-Since")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, security)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, security *auth.Security) {
	v1 := r.Group("/api/v1")
	v1.Use(auth.Middleware(security))
	{
		v1.GET("/feed", handler.GetFeed)
		v1.GET("/feed/:id", handler.GetFeedPage)
		v1.GET("/feedentry/:id", handler.GetFeedEntry)
	}

	internal := r.Group("/internal")
	{
		internal.GET("/isAlive", handler.IsAlive)
		internal.GET("/isReady", handler.IsReady)
		internal.GET("/metrics", gin.WrapH(promhttp.Handler()))

		internal.POST("/api/newConsumer", handler.NewConsumer)
		internal.POST("/api/newApiToken", handler.NewApiToken)
		internal.GET("/api/tokenInfo", handler.TokenInfo)
		internal.GET("/api/publicToken", handler.PublicToken)
	}

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(204)
	})
}
