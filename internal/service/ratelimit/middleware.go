package ratelimit

import (
	"net/http"

	"github.com/labstack/echo/v4"

	xhttp "CatalystPull/pkg/http"
)

// Middleware limits requests per client IP. Preflight requests are never limited.
func Middleware(l *Limiter, capacity, refillPerSec float64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method == http.MethodOptions {
				return next(c)
			}
			if !l.Allow(c.RealIP(), capacity, refillPerSec) {
				return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limit exceeded"))
			}
			return next(c)
		}
	}
}
