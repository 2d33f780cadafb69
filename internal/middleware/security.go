package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CorrelationIDKey is the gin context key holding the request correlation id.
const CorrelationIDKey = "correlation_id"

// SecurityHeaders adds security headers to all responses
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prevent MIME type sniffing
		c.Header("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		c.Header("X-Frame-Options", "DENY")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		// Uploaded skin photos must never be cached by intermediaries.
		c.Header("Cache-Control", "no-store")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=()")

		c.Next()
	}
}

// CORS allows browser clients from the configured origins. A "*" entry allows any origin.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Correlation-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Correlation-ID"},
		MaxAge:        12 * time.Hour,
	}

	allowAll := len(allowedOrigins) == 0
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
	}
	if allowAll {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
	}

	return cors.New(config)
}

// CorrelationID adds a unique correlation ID to each request for audit trails
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Set(CorrelationIDKey, correlationID)
		c.Header("X-Correlation-ID", correlationID)

		c.Next()
	}
}

// RequestTimeout bounds the request context. Handlers observe the deadline through
// c.Request.Context(); when it expires before a response was written the client gets 408.
func RequestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer.Written() {
			c.AbortWithStatusJSON(http.StatusRequestTimeout, gin.H{
				"error":          "Request timeout",
				"correlation_id": c.GetString(CorrelationIDKey),
				"timestamp":      time.Now().UTC().Format(time.RFC3339),
			})
		}
	}
}

// AuditLogger writes one structured entry per request. Request bodies are never logged since
// they carry patient images and answers.
func AuditLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"correlation_id": c.GetString(CorrelationIDKey),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"status":         c.Writer.Status(),
			"latency_ms":     time.Since(start).Milliseconds(),
			"client_ip":      c.ClientIP(),
			"user_agent":     c.Request.UserAgent(),
			"response_size":  c.Writer.Size(),
		})

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request completed")
		}
	}
}
