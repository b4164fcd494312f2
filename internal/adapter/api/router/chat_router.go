package router

import (
	"github.com/labstack/echo/v4"

	"bidchat/internal/adapter/api/handler"
	"bidchat/internal/adapter/api/middleware"
	"bidchat/internal/infrastructure/ratelimit"
)

// SetupChatRouter sets up the façade routes used by the UI.
func SetupChatRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	chatHandler := handler.GetChatHandler()

	v1 := e.Group("/v1")
	v1.Use(authMiddleware.Authenticate)

	v1.GET("/state", chatHandler.GetState)
	v1.GET("/unread", chatHandler.GetUnread)
	v1.POST("/reconnect", chatHandler.Reconnect, middleware.RateLimit(limiter, ratelimit.ActionReconnect))

	// Rooms
	v1.GET("/rooms", chatHandler.ListRooms)
	v1.POST("/rooms", chatHandler.CreateRoom, middleware.RateLimit(limiter, ratelimit.ActionCreateChat))
	v1.DELETE("/rooms/active", chatHandler.CloseRoom)
	v1.POST("/rooms/:id/open", chatHandler.OpenRoom)
	v1.PUT("/rooms/:id/read", chatHandler.MarkRoomRead, middleware.RateLimit(limiter, ratelimit.ActionMarkRead))
	v1.GET("/rooms/:id/messages", chatHandler.GetMessages)

	// Messages go to the active room
	v1.POST("/messages", chatHandler.SendMessage, middleware.RateLimit(limiter, ratelimit.ActionSendMessage))
}
