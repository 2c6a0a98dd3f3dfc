package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/qrmedi/qrmedi/internal/platform/metrics"
)

// Metrics observes request count and latency per route template, so ids in
// the path do not explode label cardinality.
func Metrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status, _ = errorResponse(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveHTTP(c.Request().Method, route, status, time.Since(start).Seconds())
			return err
		}
	}
}
