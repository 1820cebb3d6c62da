package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// RequestID returns a Gin middleware that tags every request with an ID,
// reusing a well-formed UUID sent by the client.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestIDFromCtx returns the ID assigned by RequestID, or "".
func RequestIDFromCtx(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
