package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
)

// ErrorBody is the JSON body of every HTTP error response
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// StatusForError maps a classified error to an HTTP status
func StatusForError(err error) int {
	var de *domain.Error
	if !errors.As(err, &de) {
		return http.StatusInternalServerError
	}

	switch de.Kind {
	case domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindProtocol:
		return http.StatusBadRequest
	case domain.KindCapacity:
		if de.Code == domain.CodeRateLimited {
			return http.StatusTooManyRequests
		}
		return http.StatusServiceUnavailable
	case domain.KindInfrastructure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorBody builds the client-facing body for err
func NewErrorBody(err error) ErrorBody {
	return ErrorBody{
		Message: domain.PublicMessage(err),
		Type:    string(domain.KindOf(err)),
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(StatusForError(err), NewErrorBody(err))
}

// ErrorHandler renders errors attached with c.Error and recovers panics.
// Stack traces are logged, never returned.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)
				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorBody{
						Message: "Internal server error",
						Type:    string(domain.KindInternal),
					})
				} else {
					c.Abort()
				}
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status := StatusForError(err)
		if status >= http.StatusInternalServerError {
			logger.Error("Request failed",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
		}
		c.JSON(status, NewErrorBody(err))
	}
}
