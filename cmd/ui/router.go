package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter registers every route on a gin engine.
func NewRouter(log *zap.Logger, h *APIHandler, media http.FileSystem, mediaPrefix string, maxBodyBytes int64) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), AccessLog(log), LimitBody(maxBodyBytes))

	router.GET("/health", h.Health)
	router.StaticFS(mediaPrefix, media)

	api := router.Group("/api", RequireUser())
	{
		api.GET("/profile", h.GetProfile)
		api.PATCH("/profile", h.UpdateProfile)
		api.GET("/profile/username", h.CheckUsername)
		api.POST("/profile/avatar", h.UploadAvatar)

		api.POST("/analyze", h.Analyze)

		api.POST("/trades", h.CreateTrade)
		api.GET("/trades", h.ListTrades)
		api.GET("/trades/:id", h.GetTrade)
		api.DELETE("/trades/:id", h.DeleteTrade)

		api.GET("/stats", h.Stats)
		api.POST("/chat", h.Chat)
	}

	return router
}

// AccessLog writes one zap line per request.
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if id := c.GetString(ctxUserID); id != "" {
			fields = append(fields, zap.String("user_id", id))
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			log.Error("Request completed", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("Request completed", fields...)
		default:
			log.Info("Request completed", fields...)
		}
	}
}

// LimitBody caps request bodies at n bytes.
func LimitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
