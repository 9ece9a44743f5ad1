package handlers

import (
	"net/http"

	"tls_portal_go/models"
	"tls_portal_go/services"

	"github.com/labstack/echo/v4"
)

// CreateClient is the public intake endpoint
func (h *Handlers) CreateClient(c echo.Context) error {
	var req services.IntakeRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	client, err := h.clients.CreateClient(c.Request().Context(), req, models.SystemActor, c.RealIP())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, client)
}

// CheckSubdomainAvailability reports whether a subdomain is free
func (h *Handlers) CheckSubdomainAvailability(c echo.Context) error {
	var req struct {
		Subdomain string `json:"subdomain"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}

	available, err := h.clients.CheckSubdomainAvailability(c.Request().Context(), req.Subdomain)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"available": available})
}
