package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/nfe-ocr/internal/common"
)

// fail aborts with the error envelope every handler shares.
func (s *Server) fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success":     false,
		"error":       msg,
		"status_code": status,
		"timestamp":   s.now().Format(time.RFC3339),
	})
}

// failErr maps an error's code to a status and logs it.
func (s *Server) failErr(c *gin.Context, op string, err error) {
	status := statusFor(err)
	common.LoggerFromContext(c.Request.Context(), s.logger).Error("http."+op+".error", "error", err, "status", status)
	s.fail(c, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func slogLevelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
