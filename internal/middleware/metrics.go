package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-booking-api/internal/service"
)

const (
	unmatchedRoute  = "unmatched"
	anonymousCaller = "anonymous"
)

// Metrics records every request under its route template and the kind of
// caller the auth middleware resolved. The metrics endpoint itself is skipped.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		switch route {
		case "/metrics":
			return
		case "":
			route = unmatchedRoute
		}
		caller := string(CallerFromContext(c).Kind)
		if caller == "" {
			caller = anonymousCaller
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, caller, c.Writer.Status(), time.Since(start))
	}
}
