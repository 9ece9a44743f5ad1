package handlers

import (
	"net/http"

	"tls_portal_go/middleware"
	"tls_portal_go/services"

	"github.com/labstack/echo/v4"
)

// callableRequest is the shared body of the billing callables
type callableRequest struct {
	TenantID        string `json:"tenantId"`
	ClientID        string `json:"clientId"`
	PaymentMethodID string `json:"paymentMethodId"`
	InvoiceID       string `json:"invoiceId"`
	ClosingID       string `json:"closingId"`
}

func bindCallable(c echo.Context) (*services.Caller, callableRequest, error) {
	var req callableRequest
	if err := bind(c, &req); err != nil {
		return nil, req, err
	}
	return middleware.GetCaller(c), req, nil
}

func (h *Handlers) CreateSetupIntent(c echo.Context) error {
	caller, req, err := bindCallable(c)
	if err != nil {
		return err
	}
	secret, err := h.billing.CreateSetupIntent(c.Request().Context(), caller, req.TenantID, req.ClientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"clientSecret": secret})
}

func (h *Handlers) AddPaymentMethod(c echo.Context) error {
	caller, req, err := bindCallable(c)
	if err != nil {
		return err
	}
	if err := h.billing.AddPaymentMethod(c.Request().Context(), caller, req.TenantID, req.ClientID, req.PaymentMethodID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) RemovePaymentMethod(c echo.Context) error {
	caller, req, err := bindCallable(c)
	if err != nil {
		return err
	}
	if err := h.billing.RemovePaymentMethod(c.Request().Context(), caller, req.TenantID, req.ClientID, req.PaymentMethodID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) PayInvoice(c echo.Context) error {
	caller, req, err := bindCallable(c)
	if err != nil {
		return err
	}
	result, err := h.billing.PayInvoice(c.Request().Context(), caller, req.TenantID, req.ClientID, req.InvoiceID, req.PaymentMethodID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handlers) CreateClosingInvoice(c echo.Context) error {
	caller, req, err := bindCallable(c)
	if err != nil {
		return err
	}
	result, err := h.billing.CreateClosingInvoice(c.Request().Context(), caller, req.TenantID, req.ClientID, req.ClosingID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handlers) GetInvoicePaymentLink(c echo.Context) error {
	caller, req, err := bindCallable(c)
	if err != nil {
		return err
	}
	link, err := h.billing.GetInvoicePaymentLink(c.Request().Context(), caller, req.TenantID, req.ClientID, req.InvoiceID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, link)
}

// ListInvoices and the other read endpoints share the client route authorization
func (h *Handlers) ListInvoices(c echo.Context) error {
	invoices, err := h.billing.ListInvoices(c.Request().Context(), middleware.GetCaller(c), c.Param("tenantId"), c.Param("clientId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, invoices)
}

func (h *Handlers) ListPayments(c echo.Context) error {
	payments, err := h.billing.ListPayments(c.Request().Context(), middleware.GetCaller(c), c.Param("tenantId"), c.Param("clientId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, payments)
}

func (h *Handlers) ListPaymentMethods(c echo.Context) error {
	methods, err := h.billing.ListPaymentMethods(c.Request().Context(), middleware.GetCaller(c), c.Param("tenantId"), c.Param("clientId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, methods)
}

func (h *Handlers) ListClosings(c echo.Context) error {
	closings, err := h.billing.ListClosings(c.Request().Context(), middleware.GetCaller(c), c.Param("tenantId"), c.Param("clientId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, closings)
}
