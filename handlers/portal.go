package handlers

import (
	"net/http"

	"tls_portal_go/models"
	"tls_portal_go/services"

	"github.com/labstack/echo/v4"
)

// publicClient is the part of a client record shown on an unauthenticated portal page
type publicClient struct {
	ID           string `json:"id"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Subdomain    string `json:"subdomain"`
	PortalStatus string `json:"portalStatus"`
}

type portalResponse struct {
	IsValidPortal bool                 `json:"isValidPortal"`
	Client        *publicClient        `json:"client,omitempty"`
	Portal        *models.PortalConfig `json:"portal,omitempty"`
}

// GetPortal resolves the request host to a client portal.
// Local development passes ?subdomain= instead of a portal host.
func (h *Handlers) GetPortal(c echo.Context) error {
	result, err := h.resolver.Resolve(c.Request().Context(), c.Request().Host, c.QueryParam("subdomain"))
	if err != nil {
		return err
	}

	switch result.Kind {
	case services.ResolveNoCandidate:
		return c.JSON(http.StatusOK, portalResponse{IsValidPortal: false})
	case services.ResolveNotFound:
		return services.NotFound("Invalid portal URL. Please check your access link.")
	}

	client := result.Portal.Client
	return c.JSON(http.StatusOK, portalResponse{
		IsValidPortal: true,
		Client: &publicClient{
			ID:           client.ID,
			FirstName:    client.Profile.FirstName,
			LastName:     client.Profile.LastName,
			Subdomain:    client.Subdomain,
			PortalStatus: client.PortalStatus,
		},
		Portal: result.Portal.Portal,
	})
}
