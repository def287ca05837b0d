package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"notechart/internal/logger"
)

// NewRouter builds the gin engine serving /v1. Mount it under /api.
func NewRouter(h *Handler, log *logger.Logger) *gin.Engine {
	if log == nil {
		log = logger.Nop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log.Component("http")))

	v1 := r.Group("/v1")
	v1.POST("/notebooks/:id/analyses", h.CreateAnalysis)
	v1.GET("/policy", h.GetPolicy)
	v1.POST("/policy/reload", h.ReloadPolicy)
	return r
}

// RequestLogger logs one line per request
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
