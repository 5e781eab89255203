package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDKey = "request_id"

// requestID assigns every request a UUID, echoed in the X-Request-ID
// response header and attached to log lines.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// requestLogger logs one structured line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString(requestIDKey))
	}
}

// withTimeout bounds the request context. Handlers observe expiry
// through ctx; backend calls are cancelled cooperatively.
func withTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// requireEnabled rejects indexing and querying while the master switch
// is off.
func (s *Server) requireEnabled() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.svc.Config().Get().Enabled {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"detail": "rag is disabled by configuration"})
			return
		}
		c.Next()
	}
}
