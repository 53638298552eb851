package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"edulive/internal/core/domain"
	apperrors "edulive/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// toAppError normalizes whatever a handler recorded on the context into the
// code vocabulary shared with the websocket surface, so a client sees the
// same error codes over REST and over the socket.
func toAppError(err error) *apperrors.AppError {
	if appErr := apperrors.FromError(err); appErr != nil {
		return appErr
	}
	switch {
	case errors.Is(err, domain.ErrRoomNotJoined),
		errors.Is(err, domain.ErrNotParticipant),
		errors.Is(err, domain.ErrSessionFull):
		return apperrors.NewPrecondition(err.Error())
	case errors.Is(err, domain.ErrAccessDenied), errors.Is(err, domain.ErrPermissionDenied):
		return apperrors.NewForbidden(err.Error())
	case errors.Is(err, domain.ErrMessageNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return apperrors.NewNotFound("resource")
	default:
		return apperrors.NewInternal("internal error")
	}
}

// ErrorHandlerMiddleware turns errors recorded via c.Error into JSON
// responses. Client errors are logged at warn; only 5xx reach the error
// log.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		appErr := toAppError(c.Errors.Last().Err)
		fields := []interface{}{
			"code", appErr.Code,
			"status", appErr.HTTPStatus,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("request failed", append(fields, "error", c.Errors.Last().Err)...)
		} else {
			logger.Warnw("request rejected", fields...)
		}

		c.JSON(appErr.HTTPStatus, gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		})
	}
}

// RecoveryMiddleware converts a handler panic into a 500 with the shared
// error shape instead of tearing down the connection.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"panic", r,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(apperrors.ErrCodeInternal),
					"message": "internal error",
				})
			}
		}()

		c.Next()
	}
}
