package middleware

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"

	"bidchat/internal/infrastructure/ratelimit"
	"bidchat/pkg/errors"
	"bidchat/pkg/logger"
	"bidchat/pkg/response"
)

// RateLimit throttles one bridge action per user. It must run after Authenticate.
func RateLimit(limiter *ratelimit.RateLimiter, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, _ := c.Get("uid").(string)

			allowed, wait := limiter.Allow(userID, action)
			if !allowed {
				logger.Warn("RATE LIMIT: %s blocked for user %s (retry in %v)", action, userID, wait)
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded for "+action, wait))
			}
			return next(c)
		}
	}
}
