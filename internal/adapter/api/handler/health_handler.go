package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"bidchat/internal/domain/entity"
)

type HealthHandler struct {
	engine SyncEngine
}

func NewHealthHandler(engine SyncEngine) *HealthHandler {
	return &HealthHandler{
		engine: engine,
	}
}

// CheckHealth reports 503 once the push channel has given up, so supervisors can restart
// or trigger a reconnect.
func (h *HealthHandler) CheckHealth(c echo.Context) error {
	state := h.engine.State()
	code := http.StatusOK
	if state == entity.SyncStateDisconnected && h.engine.LastError() != nil {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]string{
		"status": "Bridge is running",
		"state":  string(state),
		"time":   time.Now().Format(time.RFC3339),
	})
}
