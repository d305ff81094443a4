package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger writes one line per request. Errors returned by the handler are
// logged here with the status the error handler will choose.
func Logger(logger zerolog.Logger, status func(error) int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)

			code := c.Response().Status
			if err != nil && status != nil && !c.Response().Committed {
				code = status(err)
			}

			evt := logger.Info()
			switch {
			case code >= 500:
				evt = logger.Error().Err(err)
			case code >= 400:
				evt = logger.Warn().Err(err)
			}

			rid, _ := c.Get("request_id").(string)
			clinic, _ := c.Get("clinic_id").(string)
			user, _ := c.Get("user_id").(string)
			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", code).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Str("clinic", clinic).
				Str("user", user).
				Msg("request")

			return err
		}
	}
}
