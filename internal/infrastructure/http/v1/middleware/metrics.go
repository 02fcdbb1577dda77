package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPRecorder receives one observation per served request.
type HTTPRecorder interface {
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
}

// InFlightGauge tracks requests being served.
type InFlightGauge interface {
	Inc()
	Dec()
}

// Metrics middleware records request count and latency by route template.
func Metrics(rec HTTPRecorder, inFlight InFlightGauge) gin.HandlerFunc {
	return func(c *gin.Context) {
		if inFlight != nil {
			inFlight.Inc()
			defer inFlight.Dec()
		}

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		rec.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
