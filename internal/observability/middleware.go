package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// unmatchedRoute labels requests that hit no registered admin route, so
// arbitrary scanned paths do not mint new metric series.
const unmatchedRoute = "unmatched"

func routeLabel(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return unmatchedRoute
}

// RequestLogger logs one line per admin request. Successful requests stay at
// debug; client errors warn and server errors log at error.
func RequestLogger(logger zerolog.Logger, engineID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Debug()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		}

		event = event.
			Str("engine", engineID).
			Str("method", c.Request.Method).
			Str("route", routeLabel(c)).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start))
		if action := c.Param("action"); action != "" {
			event = event.Str("action", action)
		}
		event.Msg("admin.request")
	}
}

func RequestMetricsMiddleware(engineID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(engineID, c.Request.Method, routeLabel(c), c.Writer.Status(), time.Since(start))
	}
}
