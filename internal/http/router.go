// Package http wires the admin HTTP surface: health, pool/registry stats,
// a manual collector trigger, and the dashboard event stream.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/KKQ-KKQ/sfizz/config"
	"github.com/KKQ-KKQ/sfizz/internal/ws"
	"github.com/KKQ-KKQ/sfizz/pkg/filepool"
)

// NewRouter builds the admin gin.Engine. registry and wsHandler are shared
// across every request.
func NewRouter(registry *filepool.GlobalRegistry, wsHandler *ws.Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, registry.Stats())
	})

	router.GET("/defaults", func(c *gin.Context) {
		var defaults map[string]any
		if err := appconfig.Decode(&defaults); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, defaults)
	})

	router.POST("/debug/collect", func(c *gin.Context) {
		registry.ForceCollect()
		c.JSON(http.StatusOK, gin.H{"status": "collected", "stats": registry.Stats()})
	})

	router.GET("/events", func(c *gin.Context) {
		wsHandler.Handle(c.Writer, c.Request)
	})

	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}
