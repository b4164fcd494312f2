package router

import (
	"github.com/labstack/echo/v4"

	"bidchat/internal/adapter/api/handler"
	"bidchat/internal/adapter/api/middleware"
)

// SetupWebSocketRouter sets up the stateChanged stream
func SetupWebSocketRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	e.GET("/v1/events", handler.GetWebSocketHandler().HandleEvents, authMiddleware.Authenticate)
}
