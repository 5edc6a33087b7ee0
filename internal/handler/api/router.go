package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"CatalystPull/internal/service/metrics"
	"CatalystPull/internal/service/ratelimit"
	xhttp "CatalystPull/pkg/http"

	"github.com/labstack/echo/v4"
)

// RateLimit configures the per-client token bucket guarding /api.
type RateLimit struct {
	Enabled      bool
	Capacity     float64
	RefillPerSec float64
}

// Router registers every pipeline handler plus the health probe.
type Router struct {
	handlers []xhttp.Handler
	limiter  *ratelimit.Limiter
	rl       RateLimit
	health   func(ctx context.Context) error
}

func NewRouter(rl RateLimit, health func(ctx context.Context) error, handlers ...xhttp.Handler) *Router {
	metrics.Register()
	return &Router{handlers: handlers, limiter: ratelimit.New(), rl: rl, health: health}
}

// Limiter exposes the bucket store so idle clients can be swept.
func (r *Router) Limiter() *ratelimit.Limiter { return r.limiter }

func (r *Router) RegisterRoutes(e *echo.Echo) {
	if r.rl.Enabled {
		limit := ratelimit.Middleware(r.limiter, r.rl.Capacity, r.rl.RefillPerSec)
		e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
			limited := limit(next)
			return func(c echo.Context) error {
				if strings.HasPrefix(c.Request().URL.Path, "/api/") {
					return limited(c)
				}
				return next(c)
			}
		})
	}
	e.GET("/health", r.Health)
	for _, h := range r.handlers {
		h.RegisterRoutes(e)
	}
}

func (r *Router) Health(c echo.Context) error {
	if r.health != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := r.health(ctx); err != nil {
			return xhttp.ErrorResponse(c, http.StatusServiceUnavailable, err.Error())
		}
	}
	return xhttp.SuccessResponse(c, xhttp.OKEnvelope("ok"))
}
