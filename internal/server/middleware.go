package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/msaedi/instructly-sub008/internal/metrics"
)

// MetricsMiddleware records request counts and latency by route template,
// so /reservations/42 and /reservations/43 share a series.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start).Seconds(),
		)
	}
}
