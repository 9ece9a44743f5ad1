package handlers

import (
	"io"
	"net/http"

	"tls_portal_go/services"

	"github.com/labstack/echo/v4"
)

// maxWebhookBody caps the bytes read from a webhook delivery
const maxWebhookBody = 512 * 1024

// StripeWebhook verifies the raw body against Stripe-Signature and applies the event
func (h *Handlers) StripeWebhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return services.InvalidArgument("Failed to read request body")
	}
	if len(payload) > maxWebhookBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Payload too large")
	}

	if err := h.bridge.HandleStripe(c.Request().Context(), payload, c.Request().Header.Get("Stripe-Signature")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}
