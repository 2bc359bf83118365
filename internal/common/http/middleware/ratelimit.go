package middleware

import (
	"context"
	"fmt"
	"time"

	"eventflyer/internal/common/cache"
	pkgerrors "eventflyer/pkg/errors"
	"eventflyer/pkg/utils/logger"
	"eventflyer/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const rateLimitKeyPrefix = "flyer:rate:"

// RateLimitConfig is a fixed-window limit applied per client IP and per route.
type RateLimitConfig struct {
	Window   time.Duration `yaml:"window"`
	IPMax    int           `yaml:"ipMax"`
	RouteMax int           `yaml:"routeMax"`
	// Timeout bounds the redis round trip; on failure the request is let through.
	Timeout time.Duration `yaml:"timeout"`
}

func (c RateLimitConfig) enabled() bool {
	return c.Window > 0 && (c.IPMax > 0 || c.RouteMax > 0)
}

// RateLimitMiddleware rejects requests beyond the configured counts with 429.
func RateLimitMiddleware(counter cache.CounterOps, cfg RateLimitConfig) gin.HandlerFunc {
	if counter == nil || !cfg.enabled() {
		return func(c *gin.Context) { c.Next() }
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		route = c.Request.Method + " " + route

		checks := []struct {
			key string
			max int
		}{
			{fmt.Sprintf("%sip:%s:%s", rateLimitKeyPrefix, c.ClientIP(), route), cfg.IPMax},
			{fmt.Sprintf("%sroute:%s", rateLimitKeyPrefix, route), cfg.RouteMax},
		}
		for _, check := range checks {
			if check.max <= 0 {
				continue
			}
			ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
			n, err := counter.IncrWindow(ctx, check.key, cfg.Window)
			cancel()
			if err != nil {
				logger.Warn(c.Request.Context(), "rate limit check failed", zap.String("key", check.key), zap.Error(err))
				continue
			}
			if int(n) > check.max {
				response.AbortWithError(c, pkgerrors.New(pkgerrors.TooManyRequests).WithMessage("rate limit exceeded for "+route))
				return
			}
		}
		c.Next()
	}
}
