package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDKey is the gin context key under which the request id is stored.
	RequestIDKey = "request_id"

	requestIDHeader = "X-Request-ID"
)

// RequestID tags every request with an identifier for log correlation.
//
// An inbound X-Request-ID header is honored so ids survive hops through
// upstream proxies and batch schedulers; otherwise a fresh UUID is minted.
// The id is stored in the gin context under RequestIDKey and echoed back in
// the response headers.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(RequestIDKey, id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}
