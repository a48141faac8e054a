package relay

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vocalize-voice-lab/internal/logging"
)

const (
	correlationHeader = "X-Correlation-ID"
	correlationKey    = "correlation_id"
)

// withCorrelationID reuses the caller's X-Correlation-ID or mints one, and
// attaches it to the request context for downstream logging.
func (s *Server) withCorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(correlationHeader)
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Set(correlationKey, cid)
		c.Header(correlationHeader, cid)
		ctx := logging.WithFields(c.Request.Context(), correlationKey, cid)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) withRequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := logging.RequestFields(c.Request.Method, c.Request.URL.Path, c.GetString(correlationKey))
		fields = append(fields, "status", c.Writer.Status(), "latency_ms", time.Since(start).Milliseconds(), "user_agent", c.Request.UserAgent())
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			logging.Debugw("relay: request", fields...)
			return
		}
		logging.Infow("relay: request", fields...)
	}
}

func (s *Server) withMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.metrics == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTP(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
