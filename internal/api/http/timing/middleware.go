package timing

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/stoppuhr/internal/logger"
)

// accessLog logs every request through the application logger. Entries are
// written at Info, or Warn for 4xx/5xx responses, and dropped below level.
func accessLog(level zapcore.Level) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log := logger.FromContext(c.Request.Context()).
			Desugar().
			WithOptions(logger.WithLevel(level)).
			Named("http").
			Sugar()

		kvs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}

		if c.Writer.Status() >= 400 {
			log.Warnw("HTTP request", kvs...)

			return
		}

		log.Infow("HTTP request", kvs...)
	}
}
