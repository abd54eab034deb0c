package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/api/dto"
	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/gin-gonic/gin"
)

// ErrorHandlerMiddleware turns errors attached with c.Error into JSON responses
func ErrorHandlerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := StatusFor(err)

		if status >= http.StatusInternalServerError {
			logger.Error("Request error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		}

		// If response hasn't been written yet, send error response
		if !c.Writer.Written() {
			c.JSON(status, dto.ErrorResponse{
				Error:     http.StatusText(status),
				Message:   err.Error(),
				Timestamp: time.Now(),
			})
		}
	}
}

// StatusFor maps domain errors to HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrReservedField),
		errors.Is(err, domain.ErrSerialization):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
