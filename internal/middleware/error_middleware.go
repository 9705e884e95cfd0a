package middleware

import (
	"eventflow/internal/transport/httpdto"
	"eventflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorHandler renders errors attached to the gin context with the
// taxonomy envelope. Handlers that respond inline bypass it.
func ErrorHandler(l *logger.Logger, environment string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		if l != nil {
			l.Errorf("request error: %s", err.Error())
		}
		status, _ := httpdto.StatusAndKind(err)
		c.JSON(status, httpdto.NewErrorResponse(err, environment))
	}
}
