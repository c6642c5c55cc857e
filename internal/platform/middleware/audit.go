package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Audit returns middleware that writes a structured access log entry for
// every request touching clinical data. The entry records who accessed what
// from where, keyed by tenant and request ID, so access to patient-linked
// assessments and results can be reviewed later.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			ev := logger.Info().
				Str("event", "access").
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Str("remote_ip", c.RealIP()).
				Int("status", c.Response().Status).
				Dur("duration", time.Since(start))

			if tid, ok := c.Get("tenant_id").(string); ok && tid != "" {
				ev = ev.Str("tenant_id", tid)
			}
			if rid, ok := c.Get("request_id").(string); ok && rid != "" {
				ev = ev.Str("request_id", rid)
			}
			if pid := c.QueryParam("patient_id"); pid != "" {
				ev = ev.Str("patient_id", pid)
			}

			ev.Msg("audit")
			return err
		}
	}
}
