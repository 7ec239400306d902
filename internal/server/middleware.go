package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/nfe-ocr/internal/common"
)

const requestIDHeader = "X-Request-ID"

// requestContext attaches a request id and a request-scoped logger to the request context.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(requestIDHeader, rid)
		ctx := common.WithRequestID(c.Request.Context(), rid)
		ctx = common.WithLogger(ctx, s.logger.With("request_id", rid))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.deps.Metrics.ObserveHTTP(route, c.Request.Method, c.Writer.Status(), elapsed)

		log := common.LoggerFromContext(c.Request.Context(), s.logger)
		level := slogLevelFor(c.Writer.Status())
		log.Log(c.Request.Context(), level, "http.request",
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"elapsed_ms", elapsed.Milliseconds(),
		)
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		err := fmt.Errorf("panic: %v: %w", rec, common.ErrInternal)
		common.LoggerFromContext(c.Request.Context(), s.logger).Error("http.panic", "path", c.Request.URL.Path, "error", err)
		s.fail(c, http.StatusInternalServerError, common.ErrInternal.Error())
	})
}
