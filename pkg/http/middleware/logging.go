package middleware

import (
	"time"

	"SigRelay/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs each request with method, path, status, and latency.
func RequestLogging(lgr *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			res := c.Response()
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("path", req.URL.Path),
				logger.Int("status", res.Status),
				logger.Duration("latency", time.Since(start)),
			}
			if err != nil {
				fields = append(fields, logger.Error(err))
			}
			if res.Status >= 500 {
				lgr.Error("http request", fields...)
			} else {
				lgr.Debug("http request", fields...)
			}
			return err
		}
	}
}
