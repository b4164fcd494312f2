package router

import (
	"github.com/labstack/echo/v4"

	"bidchat/internal/adapter/api/middleware"
	"bidchat/internal/infrastructure/ratelimit"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	SetupHealthRouter(e)
	SetupChatRouter(e, authMiddleware, limiter)
	SetupWebSocketRouter(e, authMiddleware)
}
