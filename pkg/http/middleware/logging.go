package middleware

import (
	"time"

	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs every request with method, path, status, and latency.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	if l == nil {
		l = logger.Nop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)

			l.Info("http request",
				logger.String("method", req.Method),
				logger.String("uri", req.RequestURI),
				logger.String("remote", req.RemoteAddr),
				logger.Int("status", c.Response().Status),
				logger.Int64("latency_ms", time.Since(start).Milliseconds()),
			)

			return err
		}
	}
}
