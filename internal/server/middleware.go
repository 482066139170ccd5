package server

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vyrodovalexey/gatekeeper/internal/observability"
)

// RequestIDHeader carries the request ID to and from callers.
const RequestIDHeader = "X-Request-ID"

// requestIDMiddleware assigns each request an ID, reusing the caller's
// when present, and stores it in the request context for logging.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := observability.ContextWithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}
