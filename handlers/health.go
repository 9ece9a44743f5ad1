package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Health reports liveness and database reachability
func (h *Handlers) Health(c echo.Context) error {
	resp := map[string]string{
		"status":    "healthy",
		"service":   h.cfg.ServiceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request().Context())
	}
	if err != nil {
		resp["status"] = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
