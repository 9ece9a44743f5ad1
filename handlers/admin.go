package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tls_portal_go/middleware"
	"tls_portal_go/services"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// staffTenant returns the tenant of a staff caller; RequireRole has already run
func staffTenant(c echo.Context) (*services.Caller, error) {
	caller := middleware.GetCaller(c)
	if err := services.AuthorizeStaff(caller, callerTenant(caller)); err != nil {
		return nil, err
	}
	return caller, nil
}

func callerTenant(caller *services.Caller) string {
	if caller == nil {
		return ""
	}
	return caller.TenantID
}

// AdminListClients lists the tenant's clients with paging and filters
func (h *Handlers) AdminListClients(c echo.Context) error {
	caller, err := staffTenant(c)
	if err != nil {
		return err
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("pageSize"))
	filter := services.ClientListFilter{
		Status:       c.QueryParam("status"),
		PortalStatus: c.QueryParam("portalStatus"),
		Search:       c.QueryParam("search"),
		Page:         page,
		PageSize:     pageSize,
	}
	filter.Normalize()

	clients, total, err := h.clients.ListClients(c.Request().Context(), caller.TenantID, filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"clients":  clients,
		"total":    total,
		"page":     filter.Page,
		"pageSize": filter.PageSize,
	})
}

// AdminCreateClient enters a client on the firm's behalf
func (h *Handlers) AdminCreateClient(c echo.Context) error {
	caller, err := staffTenant(c)
	if err != nil {
		return err
	}
	var req services.IntakeRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	client, err := h.clients.CreateClientForTenant(c.Request().Context(), caller.TenantID, req, caller.IdentityID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, client)
}

func (h *Handlers) AdminGetClient(c echo.Context) error {
	caller, err := staffTenant(c)
	if err != nil {
		return err
	}
	client, err := h.clients.GetClient(c.Request().Context(), caller.TenantID, c.Param("clientId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, client)
}

func (h *Handlers) AdminUpdateClient(c echo.Context) error {
	caller, err := staffTenant(c)
	if err != nil {
		return err
	}
	var update services.ClientUpdate
	if err := bind(c, &update); err != nil {
		return err
	}

	client, err := h.clients.UpdateClient(c.Request().Context(), caller.TenantID, c.Param("clientId"), update, caller.IdentityID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, client)
}

// AdminArchiveClient soft-deletes a client, which deprovisions its portal
func (h *Handlers) AdminArchiveClient(c echo.Context) error {
	caller, err := staffTenant(c)
	if err != nil {
		return err
	}
	if err := h.clients.ArchiveClient(c.Request().Context(), caller.TenantID, c.Param("clientId"), caller.IdentityID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// AdminReprovision retries portal provisioning for one client
func (h *Handlers) AdminReprovision(c echo.Context) error {
	caller, err := staffTenant(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	client, err := h.clients.GetClient(ctx, caller.TenantID, c.Param("clientId"))
	if err != nil {
		return err
	}

	if err := h.provisioner.Provision(ctx, client.ID); err != nil {
		h.log.Warn("Manual reprovision failed", zap.String("client_id", client.ID), zap.Error(err))
		return services.Internal(err, "Portal provisioning failed")
	}

	client, err = h.clients.GetClient(ctx, caller.TenantID, client.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, client)
}

// AdminExportClients downloads the tenant's clients as a spreadsheet
func (h *Handlers) AdminExportClients(c echo.Context) error {
	caller, err := staffTenant(c)
	if err != nil {
		return err
	}
	buf, err := h.clients.ExportClientsXLSX(c.Request().Context(), caller.TenantID)
	if err != nil {
		return err
	}

	filename := fmt.Sprintf("clients-%s.xlsx", time.Now().Format("2006-01-02"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}

// AdminImportClients creates clients from an uploaded spreadsheet
func (h *Handlers) AdminImportClients(c echo.Context) error {
	caller, err := staffTenant(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return services.InvalidArgument("file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return services.InvalidArgument("failed to read file")
	}
	defer f.Close()

	result, err := h.clients.ImportClientsXLSX(c.Request().Context(), caller.TenantID, f, caller.IdentityID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// AdminCreateClosing opens a closing for a client
func (h *Handlers) AdminCreateClosing(c echo.Context) error {
	caller, err := staffTenant(c)
	if err != nil {
		return err
	}
	var in services.NewClosingInput
	if err := bind(c, &in); err != nil {
		return err
	}

	closing, err := h.billing.CreateClosing(c.Request().Context(), caller, caller.TenantID, c.Param("clientId"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, closing)
}
