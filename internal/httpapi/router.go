package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter creates and configures the Gin router. When gatherer is nil the
// /metrics route is not registered.
func SetupRouter(logger *zap.Logger, api *API, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	// Rate limiting keys on the socket peer, same as the gateway.
	if err := r.SetTrustedProxies(nil); err != nil {
		logger.Warn("failed to disable trusted proxies", zap.Error(err))
	}
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))
	r.Use(corsMiddleware())

	r.GET("/", api.Remote)
	r.GET("/remote", api.Remote)
	r.GET("/status", api.Status)
	r.POST("/command", api.Command)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return r
}

// corsMiddleware lets pages served from other origins poll and post commands.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("peer", c.ClientIP()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
