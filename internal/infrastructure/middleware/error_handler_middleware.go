package middleware

import (
	"net/http"

	"officemesh/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware turns errors attached to the gin context into
// structured JSON responses. Handlers call c.Error and return; the mapping
// to a status code lives here in one place.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		writeError(c, logger, c.Errors.Last().Err)
	}
}

// RecoveryMiddleware converts panics into 500 responses instead of killing
// the connection.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"panic", r,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}

func writeError(c *gin.Context, logger *zap.SugaredLogger, err error) {
	if appErr := errors.GetAppError(err); appErr != nil {
		logger.Errorw("request failed",
			"code", appErr.Code,
			"status", appErr.HTTPStatus,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"context", appErr.Context,
			"error", appErr.Message,
		)
		c.JSON(appErr.HTTPStatus, gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
			"details": appErr.Context,
		})
		return
	}

	logger.Errorw("request failed with unclassified error",
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
		"error", err,
	)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   string(errors.ErrCodeInternal),
		"message": "Internal server error",
	})
}
