package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/crowdfund-auth/internal/metrics"
)

// Metrics records request count, latency and in-flight gauge labelled by
// the matched route template.
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/metrics" {
				return next(c)
			}
			metrics.InFlight.Inc()
			defer metrics.InFlight.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			route, method := c.Path(), c.Request().Method
			if route == "" {
				route = "unmatched"
			}
			metrics.ReqDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Response().Status)).Inc()
			return nil
		}
	}
}
