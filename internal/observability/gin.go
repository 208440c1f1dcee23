package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request once the handler chain has run.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")
	return func(ginContext *gin.Context) {
		start := time.Now()
		path := ginContext.Request.URL.Path
		method := ginContext.Request.Method

		ginContext.Next()

		status := ginContext.Writer.Status()
		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
			zap.String("ip", ginContext.ClientIP()),
			zap.String("request_id", ginContext.GetHeader("X-Request-ID")),
		}
		if len(ginContext.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", ginContext.Errors.Errors()))
		}
		switch {
		case status >= 500:
			logger.Error("request processed", fields...)
		case status >= 400:
			logger.Warn("request processed", fields...)
		default:
			logger.Info("request processed", fields...)
		}
	}
}
