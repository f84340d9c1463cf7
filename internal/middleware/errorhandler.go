package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/reconpulse/internal/domain/dto"
	"github.com/guttosm/reconpulse/internal/logger"
)

// ErrorHandler converts errors attached to the Gin context into a
// standardized JSON error response. Handlers that call c.Error(err) without
// writing a body get a 500 with the last error's details.
var ErrorHandler gin.HandlerFunc = func(c *gin.Context) {
	c.Next()

	if len(c.Errors) == 0 || c.Writer.Written() {
		return
	}

	last := c.Errors.Last()
	logger.L().Error().
		Err(last.Err).
		Str("path", c.FullPath()).
		Msg("unhandled request error")

	c.AbortWithStatusJSON(http.StatusInternalServerError,
		dto.NewErrorResponse("Internal server error", last.Err))
}

// AbortWithError writes a standardized error response with the given status
// and stops the handler chain.
func AbortWithError(c *gin.Context, status int, message string, err error) {
	c.AbortWithStatusJSON(status, dto.NewErrorResponse(message, err))
}
