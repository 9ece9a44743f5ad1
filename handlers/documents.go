package handlers

import (
	"net/http"
	"strings"

	"tls_portal_go/middleware"
	"tls_portal_go/models"
	"tls_portal_go/services"

	"github.com/labstack/echo/v4"
)

// authorizeClientRoute checks the caller against the :tenantId/:clientId path params
func authorizeClientRoute(c echo.Context) (*services.Caller, string, string, error) {
	caller := middleware.GetCaller(c)
	tenantID, clientID := c.Param("tenantId"), c.Param("clientId")
	if err := services.AuthorizeClient(caller, tenantID, clientID); err != nil {
		return nil, "", "", err
	}
	return caller, tenantID, clientID, nil
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// UploadDocument stores a multipart "file" for a client
func (h *Handlers) UploadDocument(c echo.Context) error {
	caller, tenantID, clientID, err := authorizeClientRoute(c)
	if err != nil {
		return err
	}

	file, err := c.FormFile("file")
	if err != nil {
		return services.InvalidArgument("file is required")
	}

	uploadedByType := models.UploadedByClient
	if caller.IsStaff() {
		uploadedByType = models.UploadedByStaff
	}

	doc, err := h.documents.Upload(c.Request().Context(), services.UploadDocumentInput{
		TenantID:       tenantID,
		ClientID:       clientID,
		FolderID:       c.FormValue("folderId"),
		MatterID:       c.FormValue("matterId"),
		Category:       c.FormValue("category"),
		Description:    c.FormValue("description"),
		Tags:           splitTags(c.FormValue("tags")),
		UploadedBy:     caller.IdentityID,
		UploadedByType: uploadedByType,
		File:           file,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, doc)
}

// ListDocuments returns a client's documents, newest first
func (h *Handlers) ListDocuments(c echo.Context) error {
	_, tenantID, clientID, err := authorizeClientRoute(c)
	if err != nil {
		return err
	}

	docs, err := h.documents.List(c.Request().Context(), tenantID, clientID, services.DocumentFilter{
		Category:       c.QueryParam("category"),
		MatterID:       c.QueryParam("matterId"),
		UploadedByType: c.QueryParam("uploadedByType"),
		FolderID:       c.QueryParam("folderId"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, docs)
}

// DownloadDocument redirects to a short-lived signed URL
func (h *Handlers) DownloadDocument(c echo.Context) error {
	_, tenantID, clientID, err := authorizeClientRoute(c)
	if err != nil {
		return err
	}

	signed, err := h.documents.DownloadURL(c.Request().Context(), tenantID, clientID, c.Param("documentId"))
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, signed)
}

// DeleteDocument removes the stored object and then the metadata
func (h *Handlers) DeleteDocument(c echo.Context) error {
	caller, tenantID, clientID, err := authorizeClientRoute(c)
	if err != nil {
		return err
	}

	if err := h.documents.Delete(c.Request().Context(), tenantID, clientID, c.Param("documentId"), caller.IdentityID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ListFolders returns a client's folders in display order
func (h *Handlers) ListFolders(c echo.Context) error {
	_, tenantID, clientID, err := authorizeClientRoute(c)
	if err != nil {
		return err
	}

	folders, err := h.documents.ListFolders(c.Request().Context(), tenantID, clientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, folders)
}

// ServeFile streams a locally stored object. Keys are
// tenants/<tenant>/clients/<client>/..., and the caller must own that client.
func (h *Handlers) ServeFile(c echo.Context) error {
	key := c.Param("*")
	parts := strings.SplitN(key, "/", 5)
	if len(parts) < 5 || parts[0] != "tenants" || parts[2] != "clients" {
		return services.NotFound("File not found")
	}
	if err := services.AuthorizeClient(middleware.GetCaller(c), parts[1], parts[3]); err != nil {
		return err
	}

	rc, contentType, err := h.documents.OpenObject(c.Request().Context(), key)
	if err != nil {
		return err
	}
	defer rc.Close()

	c.Response().Header().Set("Cache-Control", "private, no-store")
	return c.Stream(http.StatusOK, contentType, rc)
}
