package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/correlation"
	"github.com/telekom/integration-hub/pkg/system"
)

// UserHeader carries the acting user. Authentication happens upstream.
const UserHeader = "X-User-ID"

// CorrelationMiddleware adopts a valid X-Correlation-ID from the request or
// mints a new one, stores it on the request context and echoes it back.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(correlation.Header))
		if id == "" || !correlation.Valid(id) {
			id = correlation.New()
		}
		c.Request = c.Request.WithContext(correlation.WithID(c.Request.Context(), id))
		c.Header(correlation.Header, id)
		c.Next()
	}
}

// IdentityMiddleware copies the X-User-ID header into the gin context.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := strings.TrimSpace(c.GetHeader(UserHeader)); user != "" {
			c.Set(system.UserIDKey, user)
		}
		c.Next()
	}
}

// RequestLoggerMiddleware stores a request-scoped logger for handlers.
func RequestLoggerMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(system.ReqLoggerKey, system.EnrichReqLogger(c, base))
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString(system.UserIDKey)
}
