package middleware

import (
	"context"
	"strings"

	"pdarena/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	TraceIDHeader   = "X-Trace-Id"
	RequestIDHeader = "X-Request-Id"
	UserIDHeader    = "X-User-Id"

	traceIDContextKey   = "trace_id"
	requestIDContextKey = "request_id"
	userIDContextKey    = "user_id"
)

// TraceConfig controls which caller supplied ids are trusted.
type TraceConfig struct {
	// AllowUserIDHeader accepts X-User-Id from a fronting gateway.
	AllowUserIDHeader bool
}

// TraceMiddleware puts trace, request and user ids on the gin and request contexts.
func TraceMiddleware() gin.HandlerFunc {
	return TraceMiddlewareWithConfig(TraceConfig{AllowUserIDHeader: true})
}

func TraceMiddlewareWithConfig(cfg TraceConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		traceID := headerOrUUID(c, TraceIDHeader)
		c.Set(traceIDContextKey, traceID)
		ctx = context.WithValue(ctx, contextkey.TraceID, traceID)
		c.Writer.Header().Set(TraceIDHeader, traceID)

		requestID := headerOrUUID(c, RequestIDHeader)
		c.Set(requestIDContextKey, requestID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Writer.Header().Set(RequestIDHeader, requestID)

		if cfg.AllowUserIDHeader {
			if userID := strings.TrimSpace(c.GetHeader(UserIDHeader)); userID != "" {
				c.Set(userIDContextKey, userID)
				ctx = context.WithValue(ctx, contextkey.UserID, userID)
			}
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// UserID returns the caller id set by TraceMiddleware, or "".
func UserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}

func headerOrUUID(c *gin.Context, header string) string {
	if v := strings.TrimSpace(c.GetHeader(header)); v != "" {
		return v
	}
	return uuid.NewString()
}
